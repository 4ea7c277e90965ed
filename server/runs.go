package server

import (
	"sync"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// run is a server-side record of a finished evaluation.
type run struct {
	id       string
	source   string
	reply    *structpb.Struct
	created  time.Time
	lastUsed time.Time
}

// RunStore keeps recent evaluation replies by run ID so clients can fetch
// them again after the call that produced them returns.
type RunStore struct {
	mu   sync.Mutex
	runs map[string]*run
}

// NewRunStore creates an empty run store.
func NewRunStore() *RunStore {
	return &RunStore{runs: make(map[string]*run)}
}

// Record stores reply under id.
func (s *RunStore) Record(id, source string, reply *structpb.Struct) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.runs[id] = &run{
		id:       id,
		source:   source,
		reply:    reply,
		created:  now,
		lastUsed: now,
	}
}

// Lookup returns the reply recorded for id.
func (s *RunStore) Lookup(id string) (*structpb.Struct, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	r.lastUsed = time.Now()
	return r.reply, true
}

// Release forgets a run.
func (s *RunStore) Release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, id)
}

// Len returns the number of recorded runs.
func (s *RunStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

// Sweep removes runs that haven't been accessed within the TTL.
func (s *RunStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for id, r := range s.runs {
		if r.lastUsed.Before(cutoff) {
			delete(s.runs, id)
			removed++
		}
	}
	return removed
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *RunStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(ttl); n > 0 {
					log.Debugf("swept %d runs", n)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	return func() { close(done) }
}
