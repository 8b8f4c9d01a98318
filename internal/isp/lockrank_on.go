//go:build lockrank

package isp

import (
	"bytes"
	"fmt"
	"runtime"
	"slices"
	"strconv"
	"sync"
)

var (
	heldMu    sync.Mutex
	heldRanks = make(map[uint64][]lockRank)
)

// goid parses the current goroutine id from its stack header. Only used
// in lockrank builds.
func goid() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	field := bytes.Fields(bytes.TrimPrefix(buf[:n], []byte("goroutine ")))[0]
	id, err := strconv.ParseUint(string(field), 10, 64)
	if err != nil {
		panic(fmt.Sprintf("lockrank: cannot parse goroutine id: %v", err))
	}
	return id
}

func acquireRank(r lockRank) {
	id := goid()
	heldMu.Lock()
	defer heldMu.Unlock()
	held := heldRanks[id]
	for _, h := range held {
		if h >= r {
			panic(fmt.Sprintf("lockrank: acquiring %s lock while holding %s lock", r, h))
		}
	}
	heldRanks[id] = append(held, r)
}

func releaseRank(r lockRank) {
	id := goid()
	heldMu.Lock()
	defer heldMu.Unlock()
	held := heldRanks[id]
	if i := slices.Index(held, r); i >= 0 {
		held = slices.Delete(held, i, i+1)
	}
	if len(held) == 0 {
		delete(heldRanks, id)
		return
	}
	heldRanks[id] = held
}
