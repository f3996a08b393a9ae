package challenge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func humanTrace() Trace {
	return Trace{
		TravelPx:          300,
		ActivationDelayMs: 800,
		Events: []Event{
			{Type: EventArm, AtMs: 800},
			{Type: EventStart, AtMs: 1400, X: 10},
			{Type: EventMove, AtMs: 1500, X: 40},
			{Type: EventMove, AtMs: 1600, X: 90},
			{Type: EventMove, AtMs: 1700, X: 150},
			{Type: EventMove, AtMs: 1800, X: 140},
			{Type: EventMove, AtMs: 1900, X: 200},
			{Type: EventMove, AtMs: 2000, X: 260},
			{Type: EventEnd, AtMs: 2600},
		},
	}
}

func TestReplay_MatchesLiveSession(t *testing.T) {
	snap, err := Replay(humanTrace())
	require.NoError(t, err)

	s := armedSession(t)
	live := humanGesture(t, s, 1400)

	assert.Equal(t, live.Snapshot, snap)
	assert.True(t, snap.Verified)
}

func TestReplay_EarlyDragAndRetry(t *testing.T) {
	tr := Trace{
		TravelPx:          200,
		ActivationDelayMs: 1000,
		Events: []Event{
			{Type: EventStart, AtMs: 300, X: 0},
			{Type: EventMove, AtMs: 350, X: 100},
			{Type: EventEnd, AtMs: 400},
			{Type: EventArm, AtMs: 1000},
			{Type: EventStart, AtMs: 1100, X: 0},
			{Type: EventMove, AtMs: 1200, X: 150},
			{Type: EventEnd, AtMs: 1300},
		},
	}

	snap, err := Replay(tr)
	require.NoError(t, err)
	assert.True(t, snap.EarlyAttempt)
	assert.Equal(t, 1, snap.Attempts)
	assert.False(t, snap.Verified)
}

func TestReplay_Honeypot(t *testing.T) {
	tr := humanTrace()
	tr.Events = append([]Event{{Type: EventHoneypot, AtMs: 10}}, tr.Events...)

	snap, err := Replay(tr)
	require.NoError(t, err)
	assert.True(t, snap.Honeypot)
	assert.False(t, snap.Verified)
}

func TestReplay_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		trace Trace
	}{
		{"zero travel", Trace{TravelPx: 0, Events: humanTrace().Events}},
		{"no events", Trace{TravelPx: 300}},
		{"too many events", Trace{TravelPx: 300, Events: make([]Event, MaxTraceEvents+1)}},
		{"out of order", Trace{TravelPx: 300, Events: []Event{
			{Type: EventArm, AtMs: 500},
			{Type: EventStart, AtMs: 400},
		}}},
		{"negative time", Trace{TravelPx: 300, Events: []Event{{Type: EventArm, AtMs: -1}}}},
		{"unknown type", Trace{TravelPx: 300, Events: []Event{{Type: "click", AtMs: 1}}}},
		{"never completed", Trace{TravelPx: 300, Events: []Event{
			{Type: EventArm, AtMs: 800},
			{Type: EventStart, AtMs: 1400},
			{Type: EventMove, AtMs: 1500, X: 100},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Replay(tt.trace)
			assert.ErrorIs(t, err, ErrInvalidTrace)
		})
	}
}
