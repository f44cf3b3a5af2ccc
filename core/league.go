package core

import (
	"errors"
	"fmt"
	"sort"
)

// League is one competitive tier.
type League struct {
	Rank  int    `json:"rank"`
	Name  string `json:"name"`
	MinXP int64  `json:"min_xp"`
}

// Catalog is the ordered, static list of league tiers.
type Catalog struct {
	tiers []League
}

// NewCatalog sorts tiers by MinXP and checks that thresholds strictly
// increase, ranks are unique, and the lowest tier admits a user with no XP.
func NewCatalog(tiers []League) (Catalog, error) {
	if len(tiers) == 0 {
		return Catalog{}, errors.New("league catalog is empty")
	}
	sorted := append([]League(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinXP < sorted[j].MinXP })
	if sorted[0].MinXP > 0 {
		return Catalog{}, fmt.Errorf("lowest league %q must have min_xp <= 0", sorted[0].Name)
	}
	ranks := make(map[int]struct{}, len(sorted))
	for i, l := range sorted {
		if _, dup := ranks[l.Rank]; dup {
			return Catalog{}, fmt.Errorf("duplicate league rank %d", l.Rank)
		}
		ranks[l.Rank] = struct{}{}
		if i > 0 && l.MinXP <= sorted[i-1].MinXP {
			return Catalog{}, fmt.Errorf("league %q min_xp %d does not increase", l.Name, l.MinXP)
		}
	}
	return Catalog{tiers: sorted}, nil
}

// MustCatalog is NewCatalog for static tables known to be valid.
func MustCatalog(tiers []League) Catalog {
	c, err := NewCatalog(tiers)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultLeagues returns the stock ten-tier ladder.
func DefaultLeagues() []League {
	return []League{
		{Rank: 1, Name: "Biyo", MinXP: 0},
		{Rank: 2, Name: "Geesi", MinXP: 1000},
		{Rank: 3, Name: "Ogow", MinXP: 2500},
		{Rank: 4, Name: "Iftiin", MinXP: 5000},
		{Rank: 5, Name: "Bir Adag", MinXP: 10000},
		{Rank: 6, Name: "Ugaas", MinXP: 20000},
		{Rank: 7, Name: "Abwaan", MinXP: 35000},
		{Rank: 8, Name: "Ilbax", MinXP: 50000},
		{Rank: 9, Name: "Guuleyste", MinXP: 75000},
		{Rank: 10, Name: "Farsamo-yahan", MinXP: 100000},
	}
}

// DefaultCatalog returns the catalog built from DefaultLeagues.
func DefaultCatalog() Catalog { return MustCatalog(DefaultLeagues()) }

// Tiers returns a copy of the tiers in ascending MinXP order.
func (c Catalog) Tiers() []League { return append([]League(nil), c.tiers...) }

// Lowest returns the entry tier.
func (c Catalog) Lowest() League { return c.tiers[0] }

// ByRank looks a tier up by rank.
func (c Catalog) ByRank(rank int) (League, bool) {
	for _, l := range c.tiers {
		if l.Rank == rank {
			return l, true
		}
	}
	return League{}, false
}

// Next returns the tier with the smallest MinXP above the given tier's MinXP.
func (c Catalog) Next(rank int) (League, bool) {
	cur, ok := c.ByRank(rank)
	if !ok {
		return League{}, false
	}
	for _, l := range c.tiers {
		if l.MinXP > cur.MinXP {
			return l, true
		}
	}
	return League{}, false
}

// Promotion records a single tier advance.
type Promotion struct {
	From League
	To   League
}

// ApplyXP grows all standing accumulators by delta and checks promotion.
// Without cascade only the immediate next tier is considered, so a grant that
// clears two thresholds promotes one tier this call. Promotion never goes backwards.
func (c Catalog) ApplyXP(s Standing, delta int64, cascade bool) (Standing, []Promotion) {
	s.WeeklyPoints += delta
	s.MonthlyPoints += delta
	s.TotalXP += delta

	var promos []Promotion
	for {
		cur, ok := c.ByRank(s.LeagueRank)
		if !ok {
			cur = c.Lowest()
			s.LeagueRank = cur.Rank
		}
		next, ok := c.Next(cur.Rank)
		if !ok || s.TotalXP < next.MinXP {
			break
		}
		s.LeagueRank = next.Rank
		promos = append(promos, Promotion{From: cur, To: next})
		if !cascade {
			break
		}
	}
	return s, promos
}
