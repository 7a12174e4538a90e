// Package popup serializes modal popup display across four priority levels.
//
// Each level admits one active request at a time, either shown (current) or
// preempted (stacked); later requests of the same level wait in FIFO order.
// A request at a level at or above the one showing takes over the display
// and the preempted request is held in its level's single stack slot until
// everything above it has closed.
package popup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vfrnav/vfrnav/pkg/logger"
)

// Level is a popup urgency tier. Higher is more urgent.
type Level int

const (
	Info Level = iota
	Notice
	Warning
	Fatal
)

// NumLevels is the number of priority levels.
const NumLevels = 4

var levelNames = [NumLevels]string{"info", "notice", "warning", "fatal"}

func (l Level) Valid() bool { return l >= Info && l <= Fatal }

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel accepts a level name or its number.
func ParseLevel(s string) (Level, error) {
	for i, name := range levelNames {
		if s == name || s == fmt.Sprint(i) {
			return Level(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, s)
}

var (
	ErrInvalidLevel = errors.New("invalid popup level")
	ErrSlotOccupied = errors.New("popup stack slot already occupied")
	ErrClosed       = errors.New("popup scheduler closed")
	ErrNotFound     = errors.New("popup request not found")
)

// State is where a request sits in the scheduler.
type State int

const (
	StateQueued State = iota
	StateCurrent
	StateStacked
	StateDone
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateCurrent:
		return "current"
	case StateStacked:
		return "stacked"
	case StateDone:
		return "done"
	}
	return "unknown"
}

// Cursor is what is currently displayed. Showing is false when nothing is.
type Cursor struct {
	Showing bool   `json:"showing"`
	ID      string `json:"id,omitempty"`
	Level   Level  `json:"level"`
	Content any    `json:"content,omitempty"`
}

// RequestOption configures a Request.
type RequestOption func(*Request)

// WithOnClose installs the content's own close handler. Request.Close calls
// it exactly once before the scheduler advances.
func WithOnClose(fn func()) RequestOption {
	return func(r *Request) { r.onClose = fn }
}

// Request is one submitted popup.
type Request struct {
	ID      string
	Content any
	Level   Level
	Created time.Time

	s         *Scheduler
	onClose   func()
	state     State // guarded by s.mu
	closeOnce sync.Once
	done      chan struct{}
}

// State returns the request's current position in the scheduler.
func (r *Request) State() State {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.state
}

// Done is closed once the request has completed or was withdrawn.
func (r *Request) Done() <-chan struct{} { return r.done }

// Wait blocks until the request completes or ctx ends.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the request: the content's close handler runs, then the
// scheduler advances. Closing a queued or stacked request withdraws it.
// Only the first call has any effect.
func (r *Request) Close() {
	r.closeOnce.Do(func() {
		if r.onClose != nil {
			r.onClose()
		}
		r.s.complete(r)
	})
}

type watcher struct {
	name string
	ch   chan Cursor
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWatchBuffer sets the buffer of channels returned by Watch.
func WithWatchBuffer(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.watchBuffer = n
		}
	}
}

// Scheduler owns the popup state. The zero value is not usable; use New.
type Scheduler struct {
	mu      sync.Mutex
	queues  [NumLevels][]*Request
	stacked [NumLevels]*Request
	current *Request
	byID    map[string]*Request
	closed  bool

	watchers    []*watcher
	watchBuffer int
}

// New creates an empty scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		byID:        make(map[string]*Request),
		watchBuffer: 16,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add submits content at level. The returned request is already current,
// stacked or queued when Add returns.
func (s *Scheduler) Add(content any, level Level, opts ...RequestOption) (*Request, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, int(level))
	}
	r := &Request{
		ID:      uuid.NewString(),
		Content: content,
		Level:   level,
		Created: time.Now(),
		s:       s,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	before := s.current
	s.byID[r.ID] = r

	if s.busy(level) {
		r.state = StateQueued
		s.queues[level] = append(s.queues[level], r)
		logger.DebugCF("popup", "Popup queued", map[string]interface{}{
			"id":    r.ID,
			"level": level.String(),
			"depth": len(s.queues[level]),
		})
		return r, nil
	}
	if err := s.activate(r); err != nil {
		delete(s.byID, r.ID)
		return nil, err
	}
	s.notifyIfChanged(before)
	return r, nil
}

// Current returns what is displayed right now.
func (s *Scheduler) Current() Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor()
}

// Get returns an outstanding request by ID.
func (s *Scheduler) Get(id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, nil
}

// CloseCurrent closes whatever is showing. It reports whether anything was.
func (s *Scheduler) CloseCurrent() bool {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r == nil {
		return false
	}
	r.Close()
	return true
}

// Depth returns the number of outstanding requests at level: queued plus
// the one that is current or stacked.
func (s *Scheduler) Depth(level Level) int {
	if !level.Valid() {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queues[level])
	if s.busy(level) {
		n++
	}
	return n
}

// Stacked returns the request held in level's stack slot, or nil.
func (s *Scheduler) Stacked(level Level) *Request {
	if !level.Valid() {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stacked[level]
}

// Watch returns a named tap receiving the cursor after every display
// change. The channel is buffered; slow consumers drop updates.
func (s *Scheduler) Watch(name string) <-chan Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &watcher{name: name, ch: make(chan Cursor, s.watchBuffer)}
	if s.closed {
		close(w.ch)
		return w.ch
	}
	s.watchers = append(s.watchers, w)
	return w.ch
}

// Close withdraws every outstanding request without running close
// handlers and closes all watch channels.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, r := range s.byID {
		r.state = StateDone
		close(r.done)
	}
	s.byID = make(map[string]*Request)
	s.queues = [NumLevels][]*Request{}
	s.stacked = [NumLevels]*Request{}
	s.current = nil
	for _, w := range s.watchers {
		close(w.ch)
	}
	s.watchers = nil
}

// busy reports whether level already has an active request.
func (s *Scheduler) busy(level Level) bool {
	return (s.current != nil && s.current.Level == level) || s.stacked[level] != nil
}

// activate places r, whose level has no active request, on display or in
// its stack slot.
func (s *Scheduler) activate(r *Request) error {
	if s.current != nil && r.Level < s.current.Level {
		return s.stack(r)
	}
	if prev := s.current; prev != nil {
		if err := s.stack(prev); err != nil {
			return err
		}
		logger.DebugCF("popup", "Popup preempted", map[string]interface{}{
			"id":    prev.ID,
			"level": prev.Level.String(),
			"by":    r.ID,
		})
	}
	s.show(r)
	return nil
}

func (s *Scheduler) stack(r *Request) error {
	if held := s.stacked[r.Level]; held != nil {
		logger.ErrorCF("popup", "Stack slot already occupied", map[string]interface{}{
			"level": r.Level.String(),
			"held":  held.ID,
			"id":    r.ID,
		})
		return fmt.Errorf("%w: level %s", ErrSlotOccupied, r.Level)
	}
	s.stacked[r.Level] = r
	r.state = StateStacked
	return nil
}

func (s *Scheduler) show(r *Request) {
	s.current = r
	r.state = StateCurrent
	logger.DebugCF("popup", "Popup shown", map[string]interface{}{
		"id":    r.ID,
		"level": r.Level.String(),
	})
}

// complete removes r from wherever it sits and advances the display.
func (s *Scheduler) complete(r *Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.state == StateDone {
		return
	}
	before := s.current

	switch r.state {
	case StateCurrent:
		s.current = nil
		s.advance(r.Level)
	case StateStacked:
		s.stacked[r.Level] = nil
		s.promote(r.Level)
	case StateQueued:
		q := s.queues[r.Level]
		for i, x := range q {
			if x == r {
				s.queues[r.Level] = append(q[:i:i], q[i+1:]...)
				break
			}
		}
	}

	r.state = StateDone
	delete(s.byID, r.ID)
	close(r.done)
	s.notifyIfChanged(before)
}

// advance runs after the current request at level closed: the next request
// of the same level goes first, otherwise the highest stacked request below
// level resumes.
func (s *Scheduler) advance(level Level) {
	if s.promote(level) {
		return
	}
	for l := level - 1; l >= Info; l-- {
		if r := s.stacked[l]; r != nil {
			s.stacked[l] = nil
			s.show(r)
			return
		}
	}
}

// promote activates the next queued request at level, if any.
func (s *Scheduler) promote(level Level) bool {
	q := s.queues[level]
	if len(q) == 0 {
		return false
	}
	next := q[0]
	s.queues[level] = q[1:]
	if err := s.activate(next); err != nil {
		// unreachable while each level has at most one active request
		s.queues[level] = append([]*Request{next}, s.queues[level]...)
		return false
	}
	return true
}

func (s *Scheduler) cursor() Cursor {
	if s.current == nil {
		return Cursor{}
	}
	return Cursor{
		Showing: true,
		ID:      s.current.ID,
		Level:   s.current.Level,
		Content: s.current.Content,
	}
}

func (s *Scheduler) notifyIfChanged(before *Request) {
	if s.current == before {
		return
	}
	c := s.cursor()
	for _, w := range s.watchers {
		select {
		case w.ch <- c:
		default: // drop if slow
		}
	}
}
