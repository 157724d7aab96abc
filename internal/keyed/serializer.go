// ABOUTME: Per-key FIFO execution lanes
// ABOUTME: Work for one key runs strictly in submission order; different keys run in parallel

package keyed

import "sync"

type lane struct {
	pending []func()
}

// Serializer runs submitted funcs one at a time per key, in the order they
// were submitted. A goroutine exists for a key only while it has work.
// The zero value is ready to use.
type Serializer struct {
	mu    sync.Mutex
	lanes map[string]*lane
	wg    sync.WaitGroup
}

// Submit queues fn on key's lane. The returned channel closes after fn returns.
func (s *Serializer) Submit(key string, fn func()) <-chan struct{} {
	done := make(chan struct{})
	job := func() {
		defer close(done)
		fn()
	}

	s.mu.Lock()
	if s.lanes == nil {
		s.lanes = make(map[string]*lane)
	}
	l, running := s.lanes[key]
	if !running {
		l = &lane{}
		s.lanes[key] = l
	}
	l.pending = append(l.pending, job)
	if !running {
		s.wg.Add(1)
		go s.drain(key, l)
	}
	s.mu.Unlock()

	return done
}

func (s *Serializer) drain(key string, l *lane) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(l.pending) == 0 {
			delete(s.lanes, key)
			s.mu.Unlock()
			return
		}
		job := l.pending[0]
		l.pending[0] = nil
		l.pending = l.pending[1:]
		s.mu.Unlock()

		job()
	}
}

// Wait blocks until every lane is empty.
func (s *Serializer) Wait() {
	s.wg.Wait()
}
