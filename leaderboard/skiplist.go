package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"agilitytrack/core"
)

// Skip list ordered by score descending, then dog id ascending.

const (
	maxLevel = 16
	pFactor  = 0.25
)

type node struct {
	e    Entry
	next [maxLevel]*node
}

type SkipList struct {
	mu    sync.RWMutex
	head  *node
	lvl   int
	byDog map[core.DogID]*node
	rng   *rand.Rand
}

func NewSkipList() *SkipList {
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		seed = [16]byte{}
	}
	return &SkipList{
		head:  &node{},
		lvl:   1,
		byDog: map[core.DogID]*node{},
		rng:   rand.New(rand.NewPCG(binary.BigEndian.Uint64(seed[:8]), binary.BigEndian.Uint64(seed[8:]))),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

func ahead(a, b Entry) bool {
	if a.Score == b.Score {
		return a.Dog < b.Dog
	}
	return a.Score > b.Score
}

// path fills update with the rightmost node before e on every level.
func (s *SkipList) path(e Entry, update *[maxLevel]*node) {
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && ahead(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
}

// Update inserts dog or moves it to its new score.
func (s *SkipList) Update(dog core.DogID, name string, score int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byDog[dog]; ok {
		if old.e.Score == score {
			old.e.Name = name
			return
		}
		s.removeLocked(old.e)
	}
	e := Entry{Dog: dog, Name: name, Score: score}
	var update [maxLevel]*node
	s.path(e, &update)
	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			update[i] = s.head
		}
		s.lvl = lvl
	}
	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	s.byDog[dog] = n
}

func (s *SkipList) removeLocked(e Entry) {
	var update [maxLevel]*node
	s.path(e, &update)
	target := update[0].next[0]
	if target == nil || target.e.Dog != e.Dog {
		return
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i] == target {
			update[i].next[i] = target.next[i]
		}
	}
	delete(s.byDog, e.Dog)
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
}

func (s *SkipList) Remove(dog core.DogID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byDog[dog]; ok {
		s.removeLocked(n.e)
	}
}

func (s *SkipList) TopN(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, min(n, len(s.byDog)))
	for cur := s.head.next[0]; cur != nil && len(out) < n; cur = cur.next[0] {
		out = append(out, cur.e)
	}
	return out
}

func (s *SkipList) Get(dog core.DogID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.byDog[dog]; ok {
		return n.e, true
	}
	return Entry{}, false
}

// Rank returns the 1-based position of dog.
func (s *SkipList) Rank(dog core.DogID) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.byDog[dog]; !ok {
		return 0, false
	}
	rank := 1
	for cur := s.head.next[0]; cur != nil; cur = cur.next[0] {
		if cur.e.Dog == dog {
			return rank, true
		}
		rank++
	}
	return 0, false
}

func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byDog)
}

var _ Board = (*SkipList)(nil)
