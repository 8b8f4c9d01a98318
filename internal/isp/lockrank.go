package isp

import "sync"

// lockRank orders the locks of the state machine. A goroutine may only
// acquire a lock whose rank is higher than every lock it already holds:
// a device lock first, then the ZSL lock.
type lockRank int

const (
	rankDevice lockRank = iota + 1
	rankZSL
)

func (r lockRank) String() string {
	switch r {
	case rankDevice:
		return "device"
	case rankZSL:
		return "zsl"
	default:
		return "unranked"
	}
}

// rankedMutex is a sync.Mutex that reports its rank to the checker
// compiled in with the lockrank build tag.
type rankedMutex struct {
	mu   sync.Mutex
	rank lockRank
}

func (m *rankedMutex) Lock() {
	acquireRank(m.rank)
	m.mu.Lock()
}

func (m *rankedMutex) Unlock() {
	m.mu.Unlock()
	releaseRank(m.rank)
}
