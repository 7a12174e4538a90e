package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vfrnav/vfrnav/pkg/protocol"
	"github.com/vfrnav/vfrnav/pkg/schema"
	"github.com/vfrnav/vfrnav/pkg/transport"
)

// recorder is a transport.Sender that keeps every posted frame.
type recorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recorder) Post(_ context.Context, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), frame...))
	return nil
}

func (r *recorder) envelope(t *testing.T, i int) protocol.Envelope {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.Greater(t, len(r.frames), i)
	env, ok, err := protocol.DecodeFrame(r.frames[i])
	require.NoError(t, err)
	require.True(t, ok)
	return env
}

func frame(t *testing.T, id protocol.MessageID, value any) []byte {
	t.Helper()
	f, err := protocol.EncodeEnvelope(id, value)
	require.NoError(t, err)
	return f
}

func TestSendReducesToSchema(t *testing.T) {
	rec := &recorder{}
	h := New(rec, WithSchemas(map[protocol.MessageID]*schema.Schema{
		protocol.IDMetar: schema.Object(schema.Fields{"icao": schema.Str()}),
	}))

	err := h.Send(context.Background(), protocol.Metar{ICAO: "LFPG", Metar: "LFPG 121200Z 27010KT CAVOK"})
	require.NoError(t, err)

	env := rec.envelope(t, 0)
	assert.Equal(t, protocol.IDMetar, env.ID)
	assert.JSONEq(t, `{"icao":"LFPG"}`, string(env.Value))
}

func TestSendDropsUnknownFieldsFromDynamicValues(t *testing.T) {
	rec := &recorder{}
	h := New(rec)

	err := h.SendValue(context.Background(), protocol.IDEditRecord, map[string]any{
		"id":      "r1",
		"name":    "Morning hop",
		"private": "do not leak",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"r1","name":"Morning hop"}`, string(rec.envelope(t, 0).Value))
}

func TestSendOmitsAbsentOptional(t *testing.T) {
	rec := &recorder{}
	h := New(rec)

	require.NoError(t, h.Send(context.Background(), protocol.ActiveRecord{}))
	assert.JSONEq(t, `{}`, string(rec.envelope(t, 0).Value))
}

func TestSendRefusesNilRequiredList(t *testing.T) {
	rec := &recorder{}
	h := New(rec)

	err := h.Send(context.Background(), protocol.Facilities{})
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Empty(t, rec.frames)

	require.NoError(t, h.Send(context.Background(), protocol.Facilities{Facilities: []protocol.Facility{}}))
	require.Len(t, rec.frames, 1)

	peer := New(&recorder{})
	delivered := 0
	peer.Subscribe(protocol.IDFacilities, func(Delivery) error {
		delivered++
		return nil
	})
	require.NoError(t, peer.HandleFrame(rec.frames[0]))
	assert.Equal(t, 1, delivered)
}

func TestSendPassthroughWithoutSchema(t *testing.T) {
	rec := &recorder{}
	h := New(rec)

	require.NoError(t, h.SendValue(context.Background(), protocol.IDGetSettings, map[string]any{"anything": 1}))
	assert.JSONEq(t, `{"anything":1}`, string(rec.envelope(t, 0).Value))
}

func TestSendRejectsUnknownID(t *testing.T) {
	h := New(&recorder{})
	err := h.SendValue(context.Background(), "Teleport", nil)
	assert.ErrorIs(t, err, protocol.ErrUnknownMessage)
}

func TestSendPostError(t *testing.T) {
	boom := errors.New("frame not loaded")
	h := New(transport.SenderFunc(func(context.Context, []byte) error { return boom }))
	err := h.Send(context.Background(), protocol.GetSettings{})
	assert.ErrorIs(t, err, boom)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	h := New(&recorder{})
	calls := 0
	f := func(Delivery) error {
		calls++
		return nil
	}

	sub := h.Subscribe(protocol.IDGetSettings, f)
	require.NoError(t, h.HandleFrame(frame(t, protocol.IDGetSettings, struct{}{})))

	assert.True(t, h.Unsubscribe(sub))
	require.NoError(t, h.HandleFrame(frame(t, protocol.IDGetSettings, struct{}{})))

	assert.Equal(t, 1, calls)
	assert.False(t, h.Unsubscribe(sub), "second unsubscribe is a no-op")
}

func TestUnsubscribeIsByHandle(t *testing.T) {
	h := New(&recorder{})
	calls := 0
	f := func(Delivery) error {
		calls++
		return nil
	}

	first := h.Subscribe(protocol.IDGetSettings, f)
	h.Subscribe(protocol.IDGetSettings, f)
	require.Equal(t, 2, h.SubscriberCount(protocol.IDGetSettings))

	h.Unsubscribe(first)
	require.NoError(t, h.HandleFrame(frame(t, protocol.IDGetSettings, struct{}{})))
	assert.Equal(t, 1, calls)
}

func TestDispatchOrderAndAbort(t *testing.T) {
	h := New(&recorder{})
	var order []string
	stop := errors.New("stop")

	h.Subscribe(protocol.IDGetRecord, func(Delivery) error {
		order = append(order, "first")
		return nil
	})
	h.Subscribe(protocol.IDGetRecord, func(Delivery) error {
		order = append(order, "second")
		return stop
	})
	h.Subscribe(protocol.IDGetRecord, func(Delivery) error {
		order = append(order, "third")
		return nil
	})

	err := h.HandleFrame(frame(t, protocol.IDGetRecord, map[string]any{"id": "r1"}))
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestForeignFramesGoToFallback(t *testing.T) {
	var foreign []string
	h := New(&recorder{}, WithFallback(func(data []byte) {
		foreign = append(foreign, string(data))
	}))
	delivered := 0
	h.Subscribe(protocol.IDGetSettings, func(Delivery) error {
		delivered++
		return nil
	})

	require.NoError(t, h.HandleFrame([]byte(`{"source":"devtools","value":"{}"}`)))
	require.NoError(t, h.HandleFrame([]byte(`plain text`)))
	require.NoError(t, h.HandleFrame(frame(t, protocol.IDGetSettings, nil)))

	assert.Equal(t, []string{`{"source":"devtools","value":"{}"}`, `plain text`}, foreign)
	assert.Equal(t, 1, delivered)
}

func TestInboundSchemaMismatchIsNotDelivered(t *testing.T) {
	h := New(&recorder{})
	delivered := 0
	h.Subscribe(protocol.IDPlanePos, func(Delivery) error {
		delivered++
		return nil
	})

	err := h.HandleFrame(frame(t, protocol.IDPlanePos, map[string]any{
		"lat": "north", "lon": 2.3, "altitude": 1000, "heading": 90, "date": 1,
	}))
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Zero(t, delivered)
}

func TestInboundValueIsReduced(t *testing.T) {
	h := New(&recorder{})
	var got Delivery
	h.Subscribe(protocol.IDGetRecord, func(d Delivery) error {
		got = d
		return nil
	})

	require.NoError(t, h.HandleFrame(frame(t, protocol.IDGetRecord, map[string]any{"id": "r1", "extra": true})))
	assert.Equal(t, map[string]any{"id": "r1"}, got.Value)
	assert.JSONEq(t, `{"id":"r1","extra":true}`, string(got.Raw))
}

func TestTypedSubscription(t *testing.T) {
	h := New(&recorder{})
	var got protocol.PlanePos
	On(h, func(p protocol.PlanePos) error {
		got = p
		return nil
	})

	require.NoError(t, h.HandleFrame(frame(t, protocol.IDPlanePos, protocol.PlanePos{
		Lat: 48.72, Lon: 2.38, Altitude: 1500, Heading: 270, Date: 1700000000000,
	})))
	assert.Equal(t, 48.72, got.Lat)
	assert.Equal(t, int64(1700000000000), got.Date)
}

func TestMalformedFrame(t *testing.T) {
	h := New(&recorder{})
	err := h.HandleFrame([]byte(`{"source":"vfrNav","value":"not json"}`))
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestCloseStopsTraffic(t *testing.T) {
	h := New(&recorder{})
	h.Subscribe(protocol.IDGetSettings, func(Delivery) error { return nil })
	h.Close()

	assert.ErrorIs(t, h.Send(context.Background(), protocol.GetSettings{}), ErrClosed)
	assert.ErrorIs(t, h.HandleFrame(frame(t, protocol.IDGetSettings, nil)), ErrClosed)
	assert.Zero(t, h.SubscriberCount(protocol.IDGetSettings))
}

func TestListenOverPipe(t *testing.T) {
	defer goleak.VerifyNone(t)

	panel, server := transport.NewPipe(8)
	out := New(panel, WithName("panel"))
	in := New(server, WithName("server"))

	received := make(chan protocol.Metar, 1)
	On(in, func(m protocol.Metar) error {
		received <- m
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- in.Listen(ctx, server) }()

	require.NoError(t, panel.Post(ctx, []byte(`{"unrelated":true}`)))
	require.NoError(t, out.Send(ctx, protocol.Metar{ICAO: "LFPN", TAF: "TAF LFPN ..."}))

	select {
	case m := <-received:
		assert.Equal(t, "LFPN", m.ICAO)
		assert.Equal(t, "TAF LFPN ...", m.TAF)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}

	require.NoError(t, panel.Close())
	assert.NoError(t, <-done)
}

func TestEnvelopeJSONShape(t *testing.T) {
	rec := &recorder{}
	h := New(rec)
	require.NoError(t, h.Send(context.Background(), protocol.GetRecord{ID: "r9"}))

	var w protocol.Wire
	require.NoError(t, json.Unmarshal(rec.frames[0], &w))
	assert.Equal(t, protocol.Source, w.Source)

	var env map[string]any
	require.NoError(t, json.Unmarshal([]byte(w.Value), &env))
	assert.Equal(t, "GetRecord", env["id"])
	assert.Equal(t, map[string]any{"id": "r9"}, env["value"])
}
