// Package tracker gates alerts with a per-camera, per-category cooldown.
package tracker

import (
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// Key identifies one camera/category pair. The map holding these grows with
// cameras x categories only, so entries are overwritten and never evicted.
type Key struct {
	CameraID string
	Category string
}

type shard struct {
	mu        sync.Mutex
	lastAlert map[Key]time.Time
}

// Tracker is safe for concurrent use. Keys are spread over shards so two
// cameras never contend on the same lock unless they hash together.
type Tracker struct {
	cooldown time.Duration
	shards   [shardCount]*shard
}

func New(cooldown time.Duration) *Tracker {
	t := &Tracker{cooldown: cooldown}
	for i := range t.shards {
		t.shards[i] = &shard{lastAlert: make(map[Key]time.Time)}
	}
	return t
}

func (t *Tracker) shardFor(k Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.CameraID))
	return t.shards[h.Sum32()%shardCount]
}

// ShouldAlert reports whether an alert may be raised for the pair at now and,
// if so, records now as the last alert time. Check and set happen under one lock.
func (t *Tracker) ShouldAlert(cameraID, category string, now time.Time) bool {
	k := Key{CameraID: cameraID, Category: category}
	s := t.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	last, seen := s.lastAlert[k]
	if seen && now.Sub(last) < t.cooldown {
		return false
	}
	s.lastAlert[k] = now
	return true
}

// Reset forgets the alert recorded at at for a pair, so a dropped alert does
// not hold the cooldown. A newer record is left alone.
func (t *Tracker) Reset(cameraID, category string, at time.Time) {
	k := Key{CameraID: cameraID, Category: category}
	s := t.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastAlert[k]; ok && last.Equal(at) {
		delete(s.lastAlert, k)
	}
}

// LastAlert returns the recorded time for a pair.
func (t *Tracker) LastAlert(cameraID, category string) (time.Time, bool) {
	k := Key{CameraID: cameraID, Category: category}
	s := t.shardFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastAlert[k]
	return last, ok
}

// Len returns the number of tracked pairs.
func (t *Tracker) Len() int {
	n := 0
	for _, s := range t.shards {
		s.mu.Lock()
		n += len(s.lastAlert)
		s.mu.Unlock()
	}
	return n
}

func (t *Tracker) Cooldown() time.Duration {
	return t.cooldown
}
