package challenge

import (
	"errors"
	"fmt"
	"time"
)

// EventType names a recorded gesture event.
type EventType string

const (
	EventArm      EventType = "arm"
	EventStart    EventType = "start"
	EventMove     EventType = "move"
	EventEnd      EventType = "end"
	EventHoneypot EventType = "honeypot"
)

// MaxTraceEvents bounds the work a single replay can cause.
const MaxTraceEvents = 5000

// ErrInvalidTrace is returned for traces that cannot be replayed.
var ErrInvalidTrace = errors.New("challenge: invalid gesture trace")

// Event is one recorded interaction. AtMs is milliseconds since the
// session was activated.
type Event struct {
	Type EventType
	AtMs float64
	X    float64
}

// Trace is a client-recorded event log of one challenge session.
type Trace struct {
	TravelPx          float64
	ActivationDelayMs float64
	Events            []Event
}

// Replay drives a fresh session through the recorded events and returns the
// resulting features. Transitions the live control would have refused (an
// early drag, a move with no drag) are applied the same way here: they
// update the session flags and are otherwise skipped.
func Replay(tr Trace) (Snapshot, error) {
	if tr.TravelPx <= 0 {
		return Snapshot{}, fmt.Errorf("%w: track travel must be positive", ErrInvalidTrace)
	}
	if len(tr.Events) == 0 || len(tr.Events) > MaxTraceEvents {
		return Snapshot{}, fmt.Errorf("%w: %d events", ErrInvalidTrace, len(tr.Events))
	}

	origin := time.Unix(0, 0)
	at := func(ms float64) time.Time {
		return origin.Add(time.Duration(ms * float64(time.Millisecond)))
	}

	s := New(origin, time.Duration(tr.ActivationDelayMs*float64(time.Millisecond)), tr.TravelPx)
	last := -1.0
	for i, ev := range tr.Events {
		if ev.AtMs < 0 || ev.AtMs < last {
			return Snapshot{}, fmt.Errorf("%w: event %d out of order", ErrInvalidTrace, i)
		}
		last = ev.AtMs
		now := at(ev.AtMs)

		switch ev.Type {
		case EventArm:
			s.Arm(now)
		case EventStart:
			_ = s.StartDrag(now, ev.X)
		case EventMove:
			_ = s.Move(now, ev.X)
		case EventEnd:
			_, _ = s.EndDrag(now)
		case EventHoneypot:
			s.TouchHoneypot()
		default:
			return Snapshot{}, fmt.Errorf("%w: unknown event type %q", ErrInvalidTrace, ev.Type)
		}
	}

	if s.Attempts == 0 {
		return Snapshot{}, fmt.Errorf("%w: no completed gesture", ErrInvalidTrace)
	}
	return s.Snapshot(), nil
}
