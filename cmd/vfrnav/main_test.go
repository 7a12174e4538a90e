package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfrnav/vfrnav/pkg/bus"
	"github.com/vfrnav/vfrnav/pkg/protocol"
	"github.com/vfrnav/vfrnav/pkg/transport"
)

func TestCheckPayload(t *testing.T) {
	table := protocol.Schemas()

	tests := []struct {
		name    string
		id      protocol.MessageID
		in      string
		want    string
		wantErr error
	}{
		{
			name: "extra fields dropped",
			id:   protocol.IDEditRecord,
			in:   `{"id":"r1","name":"hop","color":"red"}`,
			want: `{"id":"r1","name":"hop"}`,
		},
		{
			name: "absent optional omitted",
			id:   protocol.IDActiveRecord,
			in:   `{}`,
			want: `{}`,
		},
		{
			name:    "wrong type",
			id:      protocol.IDGetMetar,
			in:      `{"icao":4}`,
			wantErr: errPayloadMismatch,
		},
		{
			name:    "unknown kind",
			id:      "Teleport",
			in:      `{}`,
			wantErr: protocol.ErrUnknownMessage,
		},
		{
			name: "untyped passthrough",
			id:   protocol.IDGetSettings,
			in:   `{"x":1}`,
			want: `{"x":1}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := checkPayload(table, tt.id, []byte(tt.in))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))
		})
	}
}

func TestConsoleLine(t *testing.T) {
	var frames [][]byte
	h := bus.New(transport.SenderFunc(func(_ context.Context, f []byte) error {
		frames = append(frames, f)
		return nil
	}))
	table := protocol.Schemas()
	var out bytes.Buffer
	ctx := context.Background()

	quit, err := consoleLine(ctx, h, table, &out, `GetMetar {"icao":"LFPN"}`)
	require.NoError(t, err)
	assert.False(t, quit)
	require.Len(t, frames, 1)
	env, ok, err := protocol.DecodeFrame(frames[0])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, protocol.IDGetMetar, env.ID)

	_, err = consoleLine(ctx, h, table, &out, `GetMetar {"icao":1}`)
	assert.ErrorIs(t, err, errPayloadMismatch)
	assert.Len(t, frames, 1)

	_, err = consoleLine(ctx, h, table, &out, `GetPlaneRecords`)
	require.NoError(t, err)
	assert.Len(t, frames, 2)

	_, err = consoleLine(ctx, h, table, &out, `kinds`)
	require.NoError(t, err)
	assert.True(t, strings.Contains(out.String(), "SharedSettings"))

	quit, err = consoleLine(ctx, h, table, &out, "quit")
	require.NoError(t, err)
	assert.True(t, quit)
}
