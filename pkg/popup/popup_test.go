package popup

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func add(t *testing.T, s *Scheduler, content string, level Level, opts ...RequestOption) *Request {
	t.Helper()
	r, err := s.Add(content, level, opts...)
	require.NoError(t, err)
	return r
}

func showing(s *Scheduler) any {
	c := s.Current()
	if !c.Showing {
		return nil
	}
	return c.Content
}

// drain collects every cursor published so far.
func drain(ch <-chan Cursor) []any {
	var out []any
	for {
		select {
		case c := <-ch:
			if c.Showing {
				out = append(out, c.Content)
			} else {
				out = append(out, nil)
			}
		default:
			return out
		}
	}
}

func TestPreemptionScenario(t *testing.T) {
	s := New(WithWatchBuffer(32))
	defer s.Close()
	seen := s.Watch("test")

	info1 := add(t, s, "info-1", Info)
	warn := add(t, s, "warning", Warning)
	notice := add(t, s, "notice", Notice)
	info2 := add(t, s, "info-2", Info)

	assert.Equal(t, "warning", showing(s))
	assert.Equal(t, StateStacked, info1.State())
	assert.Equal(t, StateStacked, notice.State())
	assert.Equal(t, StateQueued, info2.State())
	assert.Equal(t, 2, s.Depth(Info))

	warn.Close()
	assert.Equal(t, "notice", showing(s))
	notice.Close()
	assert.Equal(t, "info-1", showing(s))
	info1.Close()
	assert.Equal(t, "info-2", showing(s))
	info2.Close()
	assert.Nil(t, showing(s))

	want := []any{"info-1", "warning", "notice", "info-1", "info-2", nil}
	if diff := cmp.Diff(want, drain(seen)); diff != "" {
		t.Errorf("display order mismatch (-want +got):\n%s", diff)
	}
}

func TestSameLevelUnderHigherAreBothShown(t *testing.T) {
	s := New()
	defer s.Close()

	fatal := add(t, s, "fatal", Fatal)
	a := add(t, s, "notice-a", Notice)
	b := add(t, s, "notice-b", Notice)

	assert.Equal(t, a, s.Stacked(Notice))
	assert.Equal(t, StateQueued, b.State())

	fatal.Close()
	assert.Equal(t, "notice-a", showing(s))
	a.Close()
	assert.Equal(t, "notice-b", showing(s))
	b.Close()
	assert.Nil(t, showing(s))
}

func TestEqualLevelWaitsInOrder(t *testing.T) {
	s := New()
	defer s.Close()

	first := add(t, s, "first", Warning)
	second := add(t, s, "second", Warning)

	assert.Equal(t, "first", showing(s))
	assert.Equal(t, StateQueued, second.State())
	first.Close()
	assert.Equal(t, "second", showing(s))
}

func TestHigherLevelPreemptsAndResumeScansDown(t *testing.T) {
	s := New()
	defer s.Close()

	info := add(t, s, "info", Info)
	notice := add(t, s, "notice", Notice)
	fatal := add(t, s, "fatal", Fatal)

	assert.Equal(t, info, s.Stacked(Info))
	assert.Equal(t, notice, s.Stacked(Notice))

	fatal.Close()
	assert.Equal(t, "notice", showing(s))
	notice.Close()
	assert.Equal(t, "info", showing(s))
	info.Close()
	assert.False(t, s.Current().Showing)
}

func TestCloseRunsHandlerOnce(t *testing.T) {
	s := New()
	defer s.Close()

	calls := 0
	r := add(t, s, "bye", Notice, WithOnClose(func() { calls++ }))
	r.Close()
	r.Close()

	assert.Equal(t, 1, calls)
	assert.Equal(t, StateDone, r.State())
	select {
	case <-r.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestWithdrawQueuedAndStacked(t *testing.T) {
	s := New()
	defer s.Close()

	info := add(t, s, "info", Info)
	queued := add(t, s, "info-queued", Info)
	fatal := add(t, s, "fatal", Fatal)

	info.Close()
	assert.Equal(t, queued, s.Stacked(Info), "next same-level request takes the freed slot")
	assert.Equal(t, "fatal", showing(s))

	queued.Close()
	assert.Nil(t, s.Stacked(Info))
	assert.Equal(t, 0, s.Depth(Info))

	fatal.Close()
	assert.Nil(t, showing(s))
}

func TestWithdrawQueuedKeepsOrder(t *testing.T) {
	s := New()
	defer s.Close()

	a := add(t, s, "a", Warning)
	b := add(t, s, "b", Warning)
	c := add(t, s, "c", Warning)

	b.Close()
	a.Close()
	assert.Equal(t, "c", showing(s))
	assert.Equal(t, StateDone, b.State())
	c.Close()
}

func TestInvalidLevel(t *testing.T) {
	s := New()
	defer s.Close()
	_, err := s.Add("x", Level(7))
	assert.ErrorIs(t, err, ErrInvalidLevel)
}

func TestSlotOccupiedIsReported(t *testing.T) {
	s := New()
	defer s.Close()

	add(t, s, "fatal", Fatal)
	add(t, s, "notice", Notice)

	// force a second active request at the same level
	rogue := &Request{ID: "rogue", Level: Notice, s: s, done: make(chan struct{})}
	s.mu.Lock()
	err := s.activate(rogue)
	s.mu.Unlock()
	assert.ErrorIs(t, err, ErrSlotOccupied)
}

func TestWaitAndGet(t *testing.T) {
	s := New()
	defer s.Close()

	r := add(t, s, "wait", Info)
	got, err := s.Get(r.ID)
	require.NoError(t, err)
	assert.Same(t, r, got)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx), context.DeadlineExceeded)

	go r.Close()
	require.NoError(t, r.Wait(context.Background()))

	_, err = s.Get(r.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCloseCurrent(t *testing.T) {
	s := New()
	defer s.Close()

	assert.False(t, s.CloseCurrent())
	add(t, s, "x", Warning)
	assert.True(t, s.CloseCurrent())
	assert.False(t, s.Current().Showing)
}

func TestSchedulerClose(t *testing.T) {
	s := New()
	w := s.Watch("w")
	r := add(t, s, "x", Info)
	<-w

	s.Close()
	<-r.Done()
	_, ok := <-w
	assert.False(t, ok)

	_, err := s.Add("y", Info)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"info", Info, false},
		{"fatal", Fatal, false},
		{"2", Warning, false},
		{"urgent", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidLevel)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
