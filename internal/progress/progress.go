// Package progress implements the shared loading indicator: an observable percentage that
// runs a finish step once it reaches 100.
package progress

import (
	"context"
	"sync"
	"time"
)

const (
	Min = 0
	Max = 100

	subscriberBuffer = 8
)

type Bar struct {
	mu          sync.Mutex
	value       int
	subs        map[chan int]struct{}
	finishDelay time.Duration
	onFinished  func()
	finish      *time.Timer
	seq         uint64
}

// New creates a bar at 0. finishDelay is how long the bar stays full before onFinished runs.
func New(finishDelay time.Duration) *Bar {
	return &Bar{
		subs:        make(map[chan int]struct{}),
		finishDelay: finishDelay,
	}
}

// OnFinished registers the callback invoked once the bar has been full for the finish delay.
// The owner typically resets the bar from it.
func (b *Bar) OnFinished(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onFinished = fn
}

func (b *Bar) Value() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

func (b *Bar) Set(pct int) {
	pct = min(max(pct, Min), Max)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.value = pct
	b.seq++
	if b.finish != nil {
		b.finish.Stop()
		b.finish = nil
	}
	if pct == Max {
		seq := b.seq
		b.finish = time.AfterFunc(b.finishDelay, func() { b.finished(seq) })
	}

	for ch := range b.subs {
		publish(ch, pct)
	}
}

func (b *Bar) finished(seq uint64) {
	b.mu.Lock()
	fn := b.onFinished
	current := b.seq == seq
	if current {
		b.finish = nil
	}
	b.mu.Unlock()

	if current && fn != nil {
		fn()
	}
}

// Subscribe returns a channel receiving the current value followed by every change until ctx
// is done. A subscriber that falls behind skips intermediate values but always sees the latest.
func (b *Bar) Subscribe(ctx context.Context) <-chan int {
	ch := make(chan int, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	ch <- b.value
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

func publish(ch chan int, v int) {
	select {
	case ch <- v:
		return
	default:
	}

	// full: drop the oldest pending value to make room for the newest
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
