package proximity

import (
	"sync"

	"github.com/DoyleJ11/jetfinder/internal/beacon"
)

// Buffer queues sightings between proximity ticks. Push never blocks; a busy
// radio only makes the next batch larger.
type Buffer struct {
	mu    sync.Mutex
	items []beacon.Info
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) Push(info beacon.Info) {
	b.mu.Lock()
	b.items = append(b.items, info)
	b.mu.Unlock()
}

// Drain returns everything queued since the last call, oldest first.
func (b *Buffer) Drain() []beacon.Info {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
