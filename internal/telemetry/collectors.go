package telemetry

import (
	"fmt"
	"regexp"
	"time"

	"github.com/mbd888/humancheck/internal/challenge"
)

// MaxMouseMoves caps the recorded mouse-move sample count.
const MaxMouseMoves = 500

var headlessUAPattern = regexp.MustCompile(`(?i)Headless|PhantomJS|SlimerJS|Electron`)

// MatchHeadlessUA reports whether a user agent carries a known headless or
// automation-shell marker.
func MatchHeadlessUA(ua string) bool {
	return headlessUAPattern.MatchString(ua)
}

// MoveCounter counts mouse-move events up to MaxMouseMoves.
type MoveCounter struct {
	n int
}

// Observe records one move event.
func (m *MoveCounter) Observe() {
	if m.n < MaxMouseMoves {
		m.n++
	}
}

// Count returns the capped count.
func (m *MoveCounter) Count() int { return m.n }

// TypingCadence tracks keystrokes between the first and last key press.
type TypingCadence struct {
	keystrokes int
	first      time.Time
	last       time.Time
}

// Keystroke records a key press at now.
func (t *TypingCadence) Keystroke(now time.Time) {
	if t.keystrokes == 0 {
		t.first = now
	}
	t.last = now
	t.keystrokes++
}

// Keystrokes returns the number of recorded key presses.
func (t *TypingCadence) Keystrokes() int { return t.keystrokes }

// Duration is the span from first to last key press.
func (t *TypingCadence) Duration() time.Duration {
	if t.keystrokes == 0 {
		return 0
	}
	return t.last.Sub(t.first)
}

// CharsPerSecond derives typing cadence. It returns nil unless both values
// are present and the duration is positive.
func CharsPerSecond(keystrokes, durationMs *float64) *float64 {
	if keystrokes == nil || durationMs == nil || *durationMs <= 0 {
		return nil
	}
	cps := *keystrokes / (*durationMs / 1000)
	return &cps
}

// AutomationFlags summarizes the environment evidence of a submission for
// the audit trail.
func AutomationFlags(s *Submission) []string {
	var flags []string
	if s.BotDetect.IsBot() {
		flags = append(flags, "bot-detect")
	}
	if n := s.BotDetect.Hits(); n > 0 {
		flags = append(flags, fmt.Sprintf("bot signals %d", n))
	}
	a := s.Automation
	if isTrue(a.Webdriver) {
		flags = append(flags, "webdriver")
	}
	if isTrue(a.HeadlessUA) {
		flags = append(flags, "headless UA")
	}
	if a.PluginsLength != nil && *a.PluginsLength == 0 {
		flags = append(flags, "no plugins")
	}
	if a.LanguagesLength != nil && *a.LanguagesLength == 0 {
		flags = append(flags, "no languages")
	}
	return flags
}

// Collector gathers the passive signals and the challenge session of one
// page view, recording the gesture trace as it goes. It is the Go
// counterpart of the browser collectors and is used by test clients.
type Collector struct {
	loadedAt   time.Time
	firstClick time.Time
	moves      MoveCounter
	typing     TypingCadence
	trap       bool

	session *challenge.State
	trace   challenge.Trace
}

// NewCollector starts collecting at now with a challenge session of the
// given activation delay and track travel.
func NewCollector(now time.Time, delay time.Duration, travelPx float64) *Collector {
	return &Collector{
		loadedAt: now,
		session:  challenge.New(now, delay, travelPx),
		trace: challenge.Trace{
			TravelPx:          travelPx,
			ActivationDelayMs: float64(delay.Milliseconds()),
		},
	}
}

// Session exposes the underlying challenge state.
func (c *Collector) Session() *challenge.State { return c.session }

// Click records a pointer click anywhere on the page.
func (c *Collector) Click(now time.Time) {
	if c.firstClick.IsZero() {
		c.firstClick = now
	}
}

// MouseMove records a pointer move.
func (c *Collector) MouseMove() { c.moves.Observe() }

// Keystroke records a key press in a credential field.
func (c *Collector) Keystroke(now time.Time) { c.typing.Keystroke(now) }

// ClickTrap records activation of the hidden trap control.
func (c *Collector) ClickTrap() { c.trap = true }

// Arm arms the challenge when its activation delay has elapsed.
func (c *Collector) Arm(now time.Time) bool {
	if !c.session.ArmDue(now) {
		return false
	}
	c.session.Arm(now)
	c.record(challenge.EventArm, now, 0)
	return true
}

// TouchHoneypot records interaction with the invisible field.
func (c *Collector) TouchHoneypot(now time.Time) {
	c.session.TouchHoneypot()
	c.record(challenge.EventHoneypot, now, 0)
}

// StartDrag begins a gesture on the challenge control.
func (c *Collector) StartDrag(now time.Time, x float64) error {
	c.Click(now)
	c.record(challenge.EventStart, now, x)
	return c.session.StartDrag(now, x)
}

// Drag records a movement sample of the active gesture.
func (c *Collector) Drag(now time.Time, x float64) error {
	c.moves.Observe()
	c.record(challenge.EventMove, now, x)
	return c.session.Move(now, x)
}

// EndDrag completes the active gesture.
func (c *Collector) EndDrag(now time.Time) (challenge.Outcome, error) {
	c.record(challenge.EventEnd, now, 0)
	return c.session.EndDrag(now)
}

func (c *Collector) record(t challenge.EventType, now time.Time, x float64) {
	at := float64(now.Sub(c.session.ActivatedAt)) / float64(time.Millisecond)
	c.trace.Events = append(c.trace.Events, challenge.Event{Type: t, AtMs: at, X: x})
}

// Submission assembles what the page would send at submit time.
func (c *Collector) Submission(now time.Time, username string, fp Fingerprint) *Submission {
	snap := c.session.Snapshot()
	cpt := CaptchaFromSnapshot(snap)
	trace := c.trace
	trace.Events = append([]challenge.Event(nil), c.trace.Events...)
	cpt.Trace = &trace

	beh := Behavior{
		Timing: Timing{
			TimeToSubmitMs: floatPtr(float64(now.Sub(c.loadedAt).Milliseconds())),
		},
		MouseMoveCount: floatPtr(float64(c.moves.Count())),
		KeystrokeCount: floatPtr(float64(c.typing.Keystrokes())),
	}
	if !c.firstClick.IsZero() {
		beh.Timing.TimeToFirstClickMs = floatPtr(float64(c.firstClick.Sub(c.loadedAt).Milliseconds()))
	}
	if c.typing.Keystrokes() > 0 {
		beh.TypingDurationMs = floatPtr(float64(c.typing.Duration().Milliseconds()))
	}

	return &Submission{
		Username:    username,
		TrapClicked: c.trap,
		Behavior:    beh,
		BotDetect:   BotDetect{Verdict: VerdictUnknown},
		Automation: AutomationSignals{
			Webdriver:       boolPtr(false),
			HeadlessUA:      boolPtr(MatchHeadlessUA(fp.UserAgent)),
			PluginsLength:   floatPtr(3),
			LanguagesLength: floatPtr(2),
		},
		Captcha:     cpt,
		Fingerprint: fp,
	}
}
