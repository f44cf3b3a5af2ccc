package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
)

// activityRow is one ledger entry. RequestID is a pointer so that entries
// without one store NULL and stay out of the unique index.
type activityRow struct {
	ID             string    `gorm:"primaryKey;size:36"`
	UserID         string    `gorm:"size:128;not null;index:idx_activity_user_created,priority:1"`
	ActionType     string    `gorm:"size:32;not null"`
	XPDelta        int64     `gorm:"not null"`
	EnergyDelta    int64     `gorm:"not null"`
	ProblemsSolved int       `gorm:"not null;default:0"`
	RequestID      *string   `gorm:"size:128;uniqueIndex"`
	Created        time.Time `gorm:"column:created_at;not null;index:idx_activity_user_created,priority:2"`
}

func (activityRow) TableName() string { return "activity_log" }

type progressRow struct {
	UserID         string    `gorm:"primaryKey;size:128"`
	XPTotal        int64     `gorm:"not null"`
	Level          int64     `gorm:"not null"`
	WeeklyVelocity int64     `gorm:"not null"`
	Updated        time.Time `gorm:"column:updated_at;not null"`
}

func (progressRow) TableName() string { return "progress" }

type walletRow struct {
	UserID         string `gorm:"primaryKey;size:128"`
	Balance        int64  `gorm:"not null"`
	LifetimeEarned int64  `gorm:"not null"`
}

func (walletRow) TableName() string { return "energy_wallets" }

type momentumRow struct {
	UserID       string          `gorm:"primaryKey;size:128"`
	State        string          `gorm:"size:16;not null"`
	StreakCount  decimal.Decimal `gorm:"type:text;not null"`
	LastActiveAt time.Time       `gorm:"not null"`
	DecayHalved  bool            `gorm:"not null"`
}

func (momentumRow) TableName() string { return "momentum_states" }

type standingRow struct {
	UserID        string `gorm:"primaryKey;size:128"`
	LeagueRank    int    `gorm:"not null"`
	WeeklyPoints  int64  `gorm:"not null"`
	MonthlyPoints int64  `gorm:"not null"`
	TotalXP       int64  `gorm:"column:total_xp;not null"`
}

func (standingRow) TableName() string { return "league_standings" }

// dayRow is the per-action aggregate read by DayTotals.
type dayRow struct {
	ActionType string
	N          int
	XP         int64
	Earned     int64
}
