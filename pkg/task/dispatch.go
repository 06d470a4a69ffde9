package task

import "sync"

// dispatcher delivers queued values to a single consumer goroutine in FIFO
// order. push never blocks.
type dispatcher[T any] struct {
	deliver func(T)

	mu      sync.Mutex
	queue   []T
	stopped bool
	wake    chan struct{}
	quit    chan struct{}
}

func newDispatcher[T any](deliver func(T)) *dispatcher[T] {
	d := &dispatcher[T]{
		deliver: deliver,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	go d.loop()
	return d
}

func (d *dispatcher[T]) push(v T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, v)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *dispatcher[T]) loop() {
	for {
		select {
		case <-d.quit:
			return
		case <-d.wake:
		}

		for {
			d.mu.Lock()
			if d.stopped || len(d.queue) == 0 {
				d.mu.Unlock()
				break
			}
			v := d.queue[0]
			var zero T
			d.queue[0] = zero
			d.queue = d.queue[1:]
			d.mu.Unlock()

			d.deliver(v)
		}
	}
}

// stop drops anything still queued and ends the loop. A delivery already in
// progress finishes.
func (d *dispatcher[T]) stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.queue = nil
	d.mu.Unlock()
	close(d.quit)
}
