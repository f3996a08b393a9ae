// Package telemetry holds the client-reported signals of a single login
// attempt in strict internal form.
//
// Every value the browser sends is optional. Absent or wrong-typed fields
// decode to nil (for numbers and flags) or the zero value (for strings), and
// downstream rules treat nil as "no evidence" rather than as a failure.
package telemetry

import (
	"errors"

	"github.com/mbd888/humancheck/internal/challenge"
)

// ErrInvalidPayload is returned when the request body is not a JSON object.
var ErrInvalidPayload = errors.New("telemetry: payload is not a JSON object")

// Verdict is the coarse result of the third-party automation detector.
type Verdict string

const (
	VerdictBot     Verdict = "bot"
	VerdictHuman   Verdict = "human"
	VerdictUnknown Verdict = "unknown"
)

// MaxUsernameLength bounds the sanitized username.
const MaxUsernameLength = 64

// AnonymousUser is logged when the client sends no usable username.
const AnonymousUser = "anonymous"

// Submission is one decoded login attempt.
type Submission struct {
	Username    string
	TrapClicked bool
	Behavior    Behavior
	BotDetect   BotDetect
	Automation  AutomationSignals
	Captcha     Captcha
	Fingerprint Fingerprint
}

// Timing holds page-level interaction latencies in milliseconds.
type Timing struct {
	TimeToFirstClickMs *float64
	TimeToSubmitMs     *float64
}

// Behavior holds the passive interaction collectors.
type Behavior struct {
	Timing           Timing
	MouseMoveCount   *float64
	KeystrokeCount   *float64
	TypingDurationMs *float64
}

// AutomationSignals are coarse environment flags read from the browser runtime.
type AutomationSignals struct {
	Webdriver       *bool
	HeadlessUA      *bool
	PluginsLength   *float64
	LanguagesLength *float64
}

// Captcha is the snapshot of the behavioral challenge sent at submit time.
type Captcha struct {
	// Present is false when the submission carried no captcha object at all.
	Present bool

	Verified            *bool
	DragDurationMs      *float64
	MouseSpeedVariance  *float64
	NumberOfCorrections *float64
	ReactionTimeMs      *float64
	HoneypotTriggered   *bool
	DragDistanceRatio   *float64
	ActivationDelayMs   *float64
	EarlyAttempt        *bool
	Attempts            *float64
	ClientScore         *float64

	// Trace is the raw gesture event log, when the client sent one.
	Trace *challenge.Trace
	// Replayed is set once the kinematics above were recomputed from Trace.
	Replayed bool
}

// HasKinematics reports whether any drag-derived metric is present.
func (c Captcha) HasKinematics() bool {
	return c.DragDurationMs != nil ||
		c.MouseSpeedVariance != nil ||
		c.NumberOfCorrections != nil ||
		c.ReactionTimeMs != nil ||
		c.DragDistanceRatio != nil
}

// HoneypotFired reports whether the invisible field was touched.
func (c Captcha) HoneypotFired() bool {
	return c.HoneypotTriggered != nil && *c.HoneypotTriggered
}

// ClientVerified reports whether the client claims the challenge was solved.
func (c Captcha) ClientVerified() bool {
	return c.Verified != nil && *c.Verified
}

// Source names where the kinematic values came from.
func (c Captcha) Source() string {
	if c.Replayed {
		return "replay"
	}
	if !c.Present {
		return ""
	}
	return "client"
}

// CaptchaFromSnapshot builds the captcha report of a challenge session.
func CaptchaFromSnapshot(snap challenge.Snapshot) Captcha {
	return Captcha{
		Present:             true,
		Verified:            boolPtr(snap.Verified),
		DragDurationMs:      floatPtr(float64(snap.DragDuration.Milliseconds())),
		MouseSpeedVariance:  floatPtr(snap.SpeedVariance),
		NumberOfCorrections: floatPtr(float64(snap.Corrections)),
		ReactionTimeMs:      floatPtr(float64(snap.ReactionTime.Milliseconds())),
		HoneypotTriggered:   boolPtr(snap.Honeypot),
		DragDistanceRatio:   floatPtr(snap.DistanceRatio),
		ActivationDelayMs:   floatPtr(float64(snap.ActivationDelay.Milliseconds())),
		EarlyAttempt:        boolPtr(snap.EarlyAttempt),
		Attempts:            floatPtr(float64(snap.Attempts)),
	}
}

// ApplyReplay overwrites the client-reported kinematics with values
// recomputed server-side from the gesture trace. The honeypot and
// early-attempt flags are sticky: a trace that omits them cannot clear
// what the client already reported.
func (c *Captcha) ApplyReplay(snap challenge.Snapshot) {
	r := CaptchaFromSnapshot(snap)
	r.HoneypotTriggered = boolPtr(snap.Honeypot || isTrue(c.HoneypotTriggered))
	r.EarlyAttempt = boolPtr(snap.EarlyAttempt || isTrue(c.EarlyAttempt))
	if isTrue(r.HoneypotTriggered) {
		r.Verified = boolPtr(false)
	}
	r.ClientScore = c.ClientScore
	r.Trace = c.Trace
	r.Replayed = true
	*c = r
}

// Fingerprint is logged for audit only; it never feeds the score.
type Fingerprint struct {
	UserAgent string
	Platform  string
	Language  string
	Timezone  string
}

func floatPtr(v float64) *float64 { return &v }

func boolPtr(v bool) *bool { return &v }
