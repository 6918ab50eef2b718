package api

import (
	"sync"
	"time"
)

// tickScheduler runs countdown tickers and posts their generation to the
// hub loop. It implements game.Scheduler; Schedule and Cancel are called from
// the loop, Stop from shutdown.
type tickScheduler struct {
	mu      sync.Mutex
	tickers map[uint64]chan struct{}
	out     chan<- uint64
	done    <-chan struct{}
}

func newTickScheduler(out chan<- uint64, done <-chan struct{}) *tickScheduler {
	return &tickScheduler{
		tickers: make(map[uint64]chan struct{}),
		out:     out,
		done:    done,
	}
}

// Schedule starts posting gen every interval until Cancel(gen).
func (s *tickScheduler) Schedule(gen uint64, every time.Duration) {
	stop := make(chan struct{})

	s.mu.Lock()
	s.tickers[gen] = stop
	s.mu.Unlock()

	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-s.done:
				return
			case <-t.C:
				select {
				case s.out <- gen:
				case <-stop:
					return
				case <-s.done:
					return
				}
			}
		}
	}()
}

// Cancel stops the ticker for gen. A tick already queued may still arrive;
// the phase machine ignores it.
func (s *tickScheduler) Cancel(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stop, ok := s.tickers[gen]; ok {
		close(stop)
		delete(s.tickers, gen)
	}
}

// Stop cancels every ticker.
func (s *tickScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for gen, stop := range s.tickers {
		close(stop)
		delete(s.tickers, gen)
	}
}

func (s *tickScheduler) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickers)
}
