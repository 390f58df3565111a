package embed

import (
	"context"
	"errors"
	"sync"
)

type fakeContainer struct {
	mu    sync.Mutex
	lines []string
}

func (c *fakeContainer) ID() string { return "report-container" }

func (c *fakeContainer) SetText(lines []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append([]string(nil), lines...)
}

func (c *fakeContainer) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
}

type fakeHandle struct {
	mu       sync.Mutex
	handlers map[Event]EventHandler
	onCalls  map[Event]int
	active   []Filter
	applied  [][]Filter
	getErr   error
	setErr   error
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{handlers: map[Event]EventHandler{}, onCalls: map[Event]int{}}
}

func (h *fakeHandle) On(ev Event, fn EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[ev] = fn
	h.onCalls[ev]++
}

func (h *fakeHandle) Off(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, ev)
}

func (h *fakeHandle) GetFilters(ctx context.Context) ([]Filter, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Filter(nil), h.active...), h.getErr
}

func (h *fakeHandle) SetFilters(ctx context.Context, filters []Filter) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.setErr != nil {
		return h.setErr
	}
	h.applied = append(h.applied, filters)
	h.active = filters
	return nil
}

func (h *fakeHandle) fire(ev Event, detail EventDetail) bool {
	h.mu.Lock()
	fn := h.handlers[ev]
	h.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(context.Background(), detail)
	return true
}

type fakeSurface struct {
	mu      sync.Mutex
	embeds  []Config
	handles []*fakeHandle
	resets  int
	err     error
	next    *fakeHandle
}

func (s *fakeSurface) Embed(c Container, cfg Config) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	h := s.next
	if h == nil {
		h = newFakeHandle()
	}
	s.next = nil
	s.embeds = append(s.embeds, cfg)
	s.handles = append(s.handles, h)
	return h, nil
}

func (s *fakeSurface) Reset(c Container) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
}

type countingObserver struct {
	mu       sync.Mutex
	embedded int
	events   map[Event]int
	failures int
}

func (o *countingObserver) Embedded() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.embedded++
}

func (o *countingObserver) EventReceived(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.events == nil {
		o.events = map[Event]int{}
	}
	o.events[ev]++
}

func (o *countingObserver) FilterMergeFailed() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
}

var errSurface = errors.New("surface unavailable")
