// Package framebus decouples stream ingestion from detection with one bounded
// queue per camera. Publish never blocks: when a queue reaches its high-water
// mark the oldest frames are discarded down to the low-water mark.
package framebus

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	ErrBusClosed     = errors.New("frame bus closed")
	ErrInvalidConfig = errors.New("invalid frame bus config")
	ErrUnknownCamera = errors.New("camera not registered on frame bus")
)

// Config sizes every per-camera queue. Watermarks are fractions of Capacity.
type Config struct {
	Capacity      int
	HighWatermark float64
	LowWatermark  float64
}

// QueueStats describes one camera queue.
type QueueStats struct {
	CameraID  string `json:"camera_id"`
	Depth     int    `json:"depth"`
	Capacity  int    `json:"capacity"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Drained   uint64 `json:"drained"`
}

type queue struct {
	mu    sync.Mutex
	items []Frame
	head  int
	size  int

	published uint64
	dropped   uint64
	drained   uint64
}

func (q *queue) push(f Frame) {
	q.items[(q.head+q.size)%len(q.items)] = f
	q.size++
}

func (q *queue) pop() Frame {
	f := q.items[q.head]
	q.items[q.head] = Frame{}
	q.head = (q.head + 1) % len(q.items)
	q.size--
	return f
}

// Bus holds the per-camera queues. The map lock is only taken exclusively to
// add or remove a camera; publish and drain lock one queue at a time.
type Bus struct {
	capacity int
	high     int
	low      int

	mu     sync.RWMutex
	queues map[string]*queue
	order  []string
	cursor int

	closed atomic.Bool

	published atomic.Uint64
	dropped   atomic.Uint64
	drained   atomic.Uint64
}

// New validates cfg and returns an empty bus.
func New(cfg Config) (*Bus, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrInvalidConfig, cfg.Capacity)
	}
	if cfg.HighWatermark <= 0 || cfg.HighWatermark > 1 || cfg.LowWatermark < 0 || cfg.LowWatermark >= cfg.HighWatermark {
		return nil, fmt.Errorf("%w: watermarks %.2f/%.2f", ErrInvalidConfig, cfg.HighWatermark, cfg.LowWatermark)
	}

	high := int(float64(cfg.Capacity) * cfg.HighWatermark)
	if high < 1 {
		high = 1
	}
	low := int(float64(cfg.Capacity) * cfg.LowWatermark)
	if low >= high {
		low = high - 1
	}

	return &Bus{
		capacity: cfg.Capacity,
		high:     high,
		low:      low,
		queues:   make(map[string]*queue),
	}, nil
}

// Add registers a camera queue. Adding a registered camera is a no-op.
func (b *Bus) Add(cameraID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[cameraID]; ok {
		return
	}
	b.queues[cameraID] = &queue{items: make([]Frame, b.capacity)}
	b.order = append(b.order, cameraID)
}

// Publish enqueues a copy of f for cameraID and returns how many old frames
// were discarded to make room. The camera must have been added and not
// removed since.
func (b *Bus) Publish(cameraID string, f Frame) (int, error) {
	if b.closed.Load() {
		return 0, ErrBusClosed
	}

	b.mu.RLock()
	q, ok := b.queues[cameraID]
	b.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCamera, cameraID)
	}

	f = f.Clone()
	f.CameraID = cameraID

	q.mu.Lock()
	dropped := 0
	if q.size >= b.high {
		for q.size > b.low {
			q.pop()
			dropped++
		}
	}
	q.push(f)
	q.published++
	q.dropped += uint64(dropped)
	q.mu.Unlock()

	b.published.Add(1)
	if dropped > 0 {
		b.dropped.Add(uint64(dropped))
	}
	return dropped, nil
}

// Drain returns up to maxItems frames, taking one frame per camera per pass
// starting after the camera served first last time. It never blocks and
// returns nil when every queue is empty.
func (b *Bus) Drain(maxItems int) []Frame {
	if maxItems <= 0 {
		return nil
	}

	b.mu.Lock()
	n := len(b.order)
	if n == 0 {
		b.mu.Unlock()
		return nil
	}
	start := b.cursor % n
	b.cursor = (start + 1) % n
	queues := make([]*queue, 0, n)
	for i := 0; i < n; i++ {
		queues = append(queues, b.queues[b.order[(start+i)%n]])
	}
	b.mu.Unlock()

	var out []Frame
	for len(out) < maxItems {
		progressed := false
		for _, q := range queues {
			if len(out) >= maxItems {
				break
			}
			q.mu.Lock()
			if q.size > 0 {
				out = append(out, q.pop())
				q.drained++
				progressed = true
			}
			q.mu.Unlock()
		}
		if !progressed {
			break
		}
	}

	if len(out) > 0 {
		b.drained.Add(uint64(len(out)))
	}
	return out
}

// Len returns the current depth of a camera's queue.
func (b *Bus) Len(cameraID string) int {
	b.mu.RLock()
	q, ok := b.queues[cameraID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Remove discards a camera's queue and any frames still in it. Later
// publishes for the camera fail with ErrUnknownCamera until it is added again.
func (b *Bus) Remove(cameraID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[cameraID]; !ok {
		return
	}
	delete(b.queues, cameraID)
	for i, id := range b.order {
		if id == cameraID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Stats returns per-camera queue statistics sorted by camera id.
func (b *Bus) Stats() []QueueStats {
	b.mu.RLock()
	ids := make([]string, 0, len(b.queues))
	queues := make(map[string]*queue, len(b.queues))
	for id, q := range b.queues {
		ids = append(ids, id)
		queues[id] = q
	}
	b.mu.RUnlock()

	sort.Strings(ids)
	stats := make([]QueueStats, 0, len(ids))
	for _, id := range ids {
		q := queues[id]
		q.mu.Lock()
		stats = append(stats, QueueStats{
			CameraID:  id,
			Depth:     q.size,
			Capacity:  b.capacity,
			Published: q.published,
			Dropped:   q.dropped,
			Drained:   q.drained,
		})
		q.mu.Unlock()
	}
	return stats
}

// TotalDepth sums the depth of every queue.
func (b *Bus) TotalDepth() int {
	total := 0
	for _, s := range b.Stats() {
		total += s.Depth
	}
	return total
}

func (b *Bus) Published() uint64 { return b.published.Load() }
func (b *Bus) Dropped() uint64   { return b.dropped.Load() }
func (b *Bus) Drained() uint64   { return b.drained.Load() }

// Close rejects further publishes. Frames already queued can still be drained.
func (b *Bus) Close() {
	b.closed.Store(true)
}
