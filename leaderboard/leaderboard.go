package leaderboard

import "agilitytrack/core"

// Entry is one dog's position on a board.
type Entry struct {
	Dog   core.DogID `json:"dog_id"`
	Name  string     `json:"dog_name,omitempty"`
	Score int64      `json:"score"`
}

// Board abstracts leaderboard operations.
type Board interface {
	Update(dog core.DogID, name string, score int64)
	Remove(dog core.DogID)
	TopN(n int) []Entry
	Get(dog core.DogID) (Entry, bool)
	Rank(dog core.DogID) (int, bool)
	Len() int
}
