package avatar

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Loop is the control thread. Work submitted with Execute runs in submission order on the
// goroutine calling Run.
type Loop struct {
	log    *zap.Logger
	mu     sync.Mutex
	queue  []func()
	notify chan struct{}
	closed bool
}

func NewLoop(logger *zap.Logger) *Loop {
	return &Loop{
		log:    logger.Named("loop"),
		notify: make(chan struct{}, 1),
	}
}

func (l *Loop) Execute(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.Warn("Dropping work submitted after shutdown")

		return
	}

	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.notify <- struct{}{}:
	default:
	}
}

// Run drains the queue until ctx is cancelled. Work still queued at that point is run
// before returning.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()
			l.drain()

			return nil
		case <-l.notify:
			l.drain()
		}
	}
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()

			return
		}

		work := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.run(work)
	}
}

func (l *Loop) run(work func()) {
	defer func() {
		if recovered := recover(); recovered != nil {
			l.log.Error("Recovered panic on control loop", zap.Any("panic", recovered))
		}
	}()

	work()
}
