package reasoning

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Script is the canned behaviour of one worker.
type Script struct {
	Output string
	Err    error
	Delay  time.Duration // honours context cancellation
}

// Scripted is an offline Capability that answers from per-worker scripts.
// Workers without a script get an echo of the rendered instruction.
type Scripted struct {
	mu       sync.Mutex
	scripts  map[string]Script
	requests []Request
}

// NewScripted creates a scripted backend.
func NewScripted(scripts map[string]Script) *Scripted {
	s := &Scripted{scripts: make(map[string]Script, len(scripts))}
	for k, v := range scripts {
		s.scripts[k] = v
	}
	return s
}

// Set replaces the script for a worker.
func (s *Scripted) Set(worker string, script Script) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[worker] = script
}

// Reason implements Capability.
func (s *Scripted) Reason(ctx context.Context, req Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	script, ok := s.scripts[req.Worker]
	s.mu.Unlock()

	if script.Delay > 0 {
		timer := time.NewTimer(script.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !ok {
		return fmt.Sprintf("[%s] %s", req.Worker, req.Instruction), nil
	}
	if script.Err != nil {
		return "", script.Err
	}
	return script.Output, nil
}

// Requests returns every request received so far, in order.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestsFor returns the requests received for one worker.
func (s *Scripted) RequestsFor(worker string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Worker == worker {
			out = append(out, r)
		}
	}
	return out
}
