package modsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"craft-and-carry/modsync/logging"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeScheduler records scheduled callbacks so tests fire them explicitly.
type fakeScheduler struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	delay    time.Duration
	fn       func()
	canceled bool
	fired    bool
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{}
}

func (s *fakeScheduler) After(d time.Duration, fn func()) func() {
	s.mu.Lock()
	timer := &fakeTimer{delay: d, fn: fn}
	s.timers = append(s.timers, timer)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		timer.canceled = true
		s.mu.Unlock()
	}
}

func (s *fakeScheduler) fire(index int) {
	s.mu.Lock()
	if index < 0 || index >= len(s.timers) {
		s.mu.Unlock()
		return
	}
	timer := s.timers[index]
	run := !timer.canceled && !timer.fired
	timer.fired = true
	s.mu.Unlock()
	if run {
		timer.fn()
	}
}

func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	count := len(s.timers)
	s.mu.Unlock()
	for i := 0; i < count; i++ {
		s.fire(i)
	}
}

func (s *fakeScheduler) fireLast() {
	s.mu.Lock()
	index := len(s.timers) - 1
	s.mu.Unlock()
	s.fire(index)
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *fakeScheduler) canceledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, timer := range s.timers {
		if timer.canceled {
			count++
		}
	}
	return count
}

// capturePublisher collects events synchronously for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []logging.Event
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{}
}

func (p *capturePublisher) Publish(ctx context.Context, event logging.Event) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func (p *capturePublisher) countType(eventType logging.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := 0
	for _, event := range p.events {
		if event.Type == eventType {
			count++
		}
	}
	return count
}

func (p *capturePublisher) has(eventType logging.EventType) bool {
	return p.countType(eventType) > 0
}

// fakeHostTransport records host-to-client sends and can fail per connection.
type fakeHostTransport struct {
	mu   sync.Mutex
	sent map[string][][]byte
	fail map[string]bool
}

func newFakeHostTransport() *fakeHostTransport {
	return &fakeHostTransport{
		sent: make(map[string][][]byte),
		fail: make(map[string]bool),
	}
}

func (t *fakeHostTransport) SendTo(connID string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail[connID] {
		return fmt.Errorf("send to %s refused", connID)
	}
	t.sent[connID] = append(t.sent[connID], data)
	return nil
}

func (t *fakeHostTransport) Broadcast(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent["*"] = append(t.sent["*"], data)
	return nil
}

func (t *fakeHostTransport) setFail(connID string, fail bool) {
	t.mu.Lock()
	t.fail[connID] = fail
	t.mu.Unlock()
}

func (t *fakeHostTransport) sentCount(connID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent[connID])
}

// fakeClientTransport records client-to-host sends.
type fakeClientTransport struct {
	mu   sync.Mutex
	sent [][]byte
	fail bool
}

func newFakeClientTransport() *fakeClientTransport {
	return &fakeClientTransport{}
}

func (t *fakeClientTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail {
		return fmt.Errorf("send refused")
	}
	t.sent = append(t.sent, data)
	return nil
}

func (t *fakeClientTransport) sentCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}
