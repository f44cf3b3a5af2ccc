// Package leaderboard ranks users by weekly points.
package leaderboard

import "xpengine/core"

// Entry is one ranked user.
type Entry struct {
	User  core.UserID `json:"user_id"`
	Score int64       `json:"score"`
}

// Board abstracts leaderboard operations. Ties rank by user id.
type Board interface {
	Update(user core.UserID, score int64)
	Remove(user core.UserID)
	TopN(n int) []Entry
	Get(user core.UserID) (Entry, bool)
	// Rank is 1-based.
	Rank(user core.UserID) (int, bool)
	Len() int
	Reset()
}
