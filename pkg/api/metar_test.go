package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vfrnav/vfrnav/pkg/config"
	"github.com/vfrnav/vfrnav/pkg/protocol"
)

type fakeBroadcaster struct {
	peers int
	sent  []protocol.Message
}

func (f *fakeBroadcaster) Broadcast(msg protocol.Message) int {
	f.sent = append(f.sent, msg)
	return f.peers
}

func TestMetarPollerPoll(t *testing.T) {
	out := &fakeBroadcaster{peers: 1}
	p, err := NewMetarPoller(config.MetarConfig{
		Enabled:  true,
		Schedule: "*/10 * * * *",
		Airports: []string{"lfpn", " LFPG ", ""},
	}, out)
	require.NoError(t, err)

	assert.Equal(t, 2, p.Poll())
	assert.Equal(t, []protocol.Message{
		protocol.GetMetar{ICAO: "LFPN"},
		protocol.GetMetar{ICAO: "LFPG"},
	}, out.sent)

	out.peers = 0
	assert.Zero(t, p.Poll())
}

func TestMetarPollerNext(t *testing.T) {
	p, err := NewMetarPoller(config.MetarConfig{Schedule: "*/10 * * * *"}, &fakeBroadcaster{})
	require.NoError(t, err)

	ref := time.Date(2024, 6, 1, 12, 3, 0, 0, time.UTC)
	next, err := p.Next(ref)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 10, 0, 0, time.UTC), next)
}

func TestMetarPollerRejectsBadSchedule(t *testing.T) {
	_, err := NewMetarPoller(config.MetarConfig{Schedule: "every ten minutes"}, &fakeBroadcaster{})
	assert.Error(t, err)
}
