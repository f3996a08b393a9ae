// Package challenge implements the draggable verification control.
//
// A session moves Dormant → Armed (after a randomized activation delay) →
// Dragging → Verified, or back to Armed when a completed gesture fails the
// acceptance predicate. The State object is owned by the caller and every
// transition takes the current time explicitly, so a session can be driven
// live by a client or replayed from a recorded trace.
package challenge

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math"
	"time"
)

// Phase is the lifecycle position of a challenge session.
type Phase int

const (
	PhaseDormant Phase = iota
	PhaseArmed
	PhaseDragging
	PhaseVerified
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseDormant:
		return "dormant"
	case PhaseArmed:
		return "armed"
	case PhaseDragging:
		return "dragging"
	case PhaseVerified:
		return "verified"
	default:
		return "unknown"
	}
}

// Activation window and acceptance predicate.
const (
	MinActivationDelay = 600 * time.Millisecond
	MaxActivationDelay = 1400 * time.Millisecond

	MinDistanceRatio = 0.45
	MinDragDuration  = 400 * time.Millisecond
	MaxDragDuration  = 6000 * time.Millisecond
	MinReactionTime  = 250 * time.Millisecond

	// Horizontal deltas at or below this many pixels never count as a
	// direction change.
	correctionDeadZonePx = 2.0
)

var (
	ErrNotArmed       = errors.New("challenge: control is not armed yet")
	ErrLocked         = errors.New("challenge: control is already verified")
	ErrNoActiveDrag   = errors.New("challenge: no drag in progress")
	ErrDragInProgress = errors.New("challenge: a drag is already in progress")
)

// State is one challenge session.
type State struct {
	Phase           Phase
	ActivationDelay time.Duration
	ActivatedAt     time.Time
	ArmedAt         time.Time
	DragStartAt     time.Time
	DragEndAt       time.Time

	ReactionTime  time.Duration
	DragDuration  time.Duration
	DistanceRatio float64
	SpeedVariance float64
	Corrections   int

	Honeypot     bool
	EarlyAttempt bool
	Attempts     int

	travelPx float64
	position float64
	drag     *dragTrack
}

// dragTrack is the per-gesture tracking data; cleared on every drag end.
type dragTrack struct {
	startX     float64
	lastX      float64
	lastAt     time.Time
	lastDir    int
	maxForward float64
	speeds     []float64
}

// New starts a dormant session at now. travelPx is the usable length of
// the slider track in pixels.
func New(now time.Time, delay time.Duration, travelPx float64) *State {
	if travelPx <= 0 {
		travelPx = 1
	}
	return &State{
		Phase:           PhaseDormant,
		ActivationDelay: delay,
		ActivatedAt:     now,
		travelPx:        travelPx,
	}
}

// RandomActivationDelay picks a delay uniformly in [MinActivationDelay, MaxActivationDelay].
func RandomActivationDelay() time.Duration {
	span := int64(MaxActivationDelay-MinActivationDelay) / int64(time.Millisecond)
	var b [8]byte
	_, _ = rand.Read(b[:])
	n := int64(binary.LittleEndian.Uint64(b[:])>>1) % (span + 1)
	return MinActivationDelay + time.Duration(n)*time.Millisecond
}

// ArmDue reports whether the activation delay has elapsed at now.
func (s *State) ArmDue(now time.Time) bool {
	return !now.Before(s.ActivatedAt.Add(s.ActivationDelay))
}

// Arm moves a dormant session to armed. Arming an already armed or
// verified session is a no-op.
func (s *State) Arm(now time.Time) {
	if s.Phase != PhaseDormant {
		return
	}
	s.Phase = PhaseArmed
	s.ArmedAt = now
}

// TouchHoneypot records interaction with the invisible field. The flag
// never clears for the lifetime of the session.
func (s *State) TouchHoneypot() {
	s.Honeypot = true
}

// Position is the visual handle offset in pixels.
func (s *State) Position() float64 {
	return s.position
}

// StartDrag begins a gesture at horizontal coordinate x.
func (s *State) StartDrag(now time.Time, x float64) error {
	switch s.Phase {
	case PhaseDormant:
		s.EarlyAttempt = true
		return ErrNotArmed
	case PhaseVerified:
		return ErrLocked
	case PhaseDragging:
		return ErrDragInProgress
	}

	s.Phase = PhaseDragging
	s.DragStartAt = now
	s.DragEndAt = time.Time{}
	s.ReactionTime = now.Sub(s.ArmedAt)
	s.Corrections = 0
	s.drag = &dragTrack{startX: x, lastX: x, lastAt: now}
	s.position = 0
	return nil
}

// Move records one movement sample of the active gesture.
func (s *State) Move(now time.Time, x float64) error {
	if s.Phase != PhaseDragging || s.drag == nil {
		return ErrNoActiveDrag
	}
	d := s.drag

	dx := x - d.lastX
	dtMs := float64(now.Sub(d.lastAt)) / float64(time.Millisecond)
	if dtMs > 0 {
		d.speeds = append(d.speeds, math.Abs(dx)/dtMs)
	}

	if math.Abs(dx) > correctionDeadZonePx {
		dir := 1
		if dx < 0 {
			dir = -1
		}
		if d.lastDir != 0 && dir != d.lastDir {
			s.Corrections++
		}
		d.lastDir = dir
	}

	forward := clamp(x-d.startX, 0, s.travelPx)
	if forward > d.maxForward {
		d.maxForward = forward
	}
	s.position = forward

	d.lastX = x
	d.lastAt = now
	return nil
}

// Outcome is the result of a completed gesture.
type Outcome struct {
	Accepted bool
	Snapshot Snapshot
}

// EndDrag completes the active gesture and applies the acceptance predicate.
// Attempts increments on every completed gesture regardless of outcome.
func (s *State) EndDrag(now time.Time) (Outcome, error) {
	if s.Phase != PhaseDragging || s.drag == nil {
		return Outcome{}, ErrNoActiveDrag
	}
	d := s.drag
	s.drag = nil

	s.DragEndAt = now
	s.DragDuration = now.Sub(s.DragStartAt)
	s.SpeedVariance = populationVariance(d.speeds)
	s.DistanceRatio = clamp(d.maxForward/s.travelPx, 0, 1)
	s.Attempts++

	accepted := s.accepts()
	if accepted {
		s.Phase = PhaseVerified
		s.position = s.travelPx
	} else {
		s.Phase = PhaseArmed
		s.position = 0
	}
	return Outcome{Accepted: accepted, Snapshot: s.Snapshot()}, nil
}

func (s *State) accepts() bool {
	return s.DistanceRatio >= MinDistanceRatio &&
		s.DragDuration >= MinDragDuration &&
		s.DragDuration <= MaxDragDuration &&
		s.ReactionTime >= MinReactionTime &&
		!s.Honeypot
}

// Snapshot is the feature set reported with a submission.
type Snapshot struct {
	Verified        bool
	ActivationDelay time.Duration
	ReactionTime    time.Duration
	DragDuration    time.Duration
	DistanceRatio   float64
	SpeedVariance   float64
	Corrections     int
	Honeypot        bool
	EarlyAttempt    bool
	Attempts        int
}

// Snapshot returns the current features.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		Verified:        s.Phase == PhaseVerified,
		ActivationDelay: s.ActivationDelay,
		ReactionTime:    s.ReactionTime,
		DragDuration:    s.DragDuration,
		DistanceRatio:   s.DistanceRatio,
		SpeedVariance:   s.SpeedVariance,
		Corrections:     s.Corrections,
		Honeypot:        s.Honeypot,
		EarlyAttempt:    s.EarlyAttempt,
		Attempts:        s.Attempts,
	}
}

// populationVariance returns 0 for an empty sequence.
func populationVariance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	var sq float64
	for _, x := range xs {
		sq += (x - mean) * (x - mean)
	}
	return sq / float64(len(xs))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
