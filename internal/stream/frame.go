package stream

import (
	"time"

	"github.com/danmuck/framestream/internal/pixel"
)

// Owner is the party currently holding a Frame buffer.
type Owner int

const (
	OwnerFree Owner = iota
	OwnerProducer
	OwnerChannel
	OwnerConsumer
)

func (o Owner) String() string {
	switch o {
	case OwnerFree:
		return "free"
	case OwnerProducer:
		return "producer-pending"
	case OwnerChannel:
		return "channel-queued"
	case OwnerConsumer:
		return "consumer-held"
	default:
		return "unknown"
	}
}

// Frame is a Channel-allocated buffer. Producer and consumer access the same
// planes in place; only ownership moves.
type Frame struct {
	ch     *Channel
	id     uint64
	format pixel.Format
	planes [][]byte

	// guarded by ch.mu
	owner       Owner
	seq         uint64
	presentedAt time.Time
}

// ID identifies the buffer within its Channel pool.
func (f *Frame) ID() uint64 {
	return f.id
}

func (f *Frame) Format() pixel.Format {
	return f.format
}

// Planes returns the pitched device planes. Only the current owner may touch them.
func (f *Frame) Planes() [][]byte {
	return f.planes
}

// Seq returns the present sequence of the content, starting at 1. Zero means never presented.
func (f *Frame) Seq() uint64 {
	f.ch.mu.Lock()
	defer f.ch.mu.Unlock()
	return f.seq
}

func (f *Frame) PresentedAt() time.Time {
	f.ch.mu.Lock()
	defer f.ch.mu.Unlock()
	return f.presentedAt
}

func (f *Frame) Owner() Owner {
	f.ch.mu.Lock()
	defer f.ch.mu.Unlock()
	return f.owner
}
