package telemetry

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/mbd888/humancheck/internal/challenge"
	"github.com/mbd888/humancheck/internal/validation"
)

// maxFingerprintLength bounds each fingerprint string kept for audit.
const maxFingerprintLength = 512

// Decode parses a login submission. Only a body that is not a JSON object
// is an error; every field inside it is optional and wrong-typed values
// decode as absent.
func Decode(body []byte) (*Submission, error) {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if root == nil {
		return nil, ErrInvalidPayload
	}

	sub := &Submission{
		Username:    SanitizeUsername(root["username"]),
		TrapClicked: isTrue(getBool(root, "trapClicked")),
		Behavior:    decodeBehavior(getMap(root, "behavior")),
		BotDetect:   decodeBotDetect(root),
		Automation:  decodeAutomation(getMap(root, "automationSignals")),
		Captcha:     decodeCaptcha(root),
		Fingerprint: decodeFingerprint(getMap(root, "fingerprint")),
	}
	return sub, nil
}

// SanitizeUsername returns the trimmed, bounded username, or AnonymousUser
// when v is not a non-empty string.
func SanitizeUsername(v any) string {
	s, ok := v.(string)
	if !ok {
		return AnonymousUser
	}
	s = validation.SanitizeString(s, MaxUsernameLength)
	if s == "" {
		return AnonymousUser
	}
	return s
}

func decodeBehavior(b map[string]any) Behavior {
	timing := getMap(b, "timingMs")
	out := Behavior{
		Timing: Timing{
			TimeToFirstClickMs: getFloat(timing, "timeToFirstClickMs"),
			TimeToSubmitMs:     getFloat(timing, "timeToSubmitMs"),
		},
		MouseMoveCount:   getFloat(b, "mouseMoveCount"),
		KeystrokeCount:   getFloat(b, "keystrokeCount"),
		TypingDurationMs: getFloat(b, "typingDurationMs"),
	}
	if out.MouseMoveCount != nil && *out.MouseMoveCount > MaxMouseMoves {
		out.MouseMoveCount = floatPtr(MaxMouseMoves)
	}
	return out
}

// decodeBotDetect reads botDetect.{decision,results,error}, falling back to
// the legacy top-level botDetectDecision and botDetectResults fields.
func decodeBotDetect(root map[string]any) BotDetect {
	bd := getMap(root, "botDetect")

	decision := bd["decision"]
	if decision == nil {
		decision = root["botDetectDecision"]
	}

	raw, ok := bd["results"].([]any)
	if !ok {
		raw, _ = root["botDetectResults"].([]any)
	}
	var results []CheckResult
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			results = append(results, CheckResult(m))
		}
	}

	out := BotDetect{
		Verdict: NormalizeVerdict(decision),
		Results: results,
		Error:   validation.SanitizeString(getString(bd, "error"), maxFingerprintLength),
	}
	if out.Failed() {
		out.Verdict = VerdictUnknown
	}
	return out
}

func decodeAutomation(a map[string]any) AutomationSignals {
	return AutomationSignals{
		Webdriver:       getBool(a, "webdriver"),
		HeadlessUA:      getBool(a, "headlessUA"),
		PluginsLength:   getFloat(a, "pluginsLength"),
		LanguagesLength: getFloat(a, "languagesLength"),
	}
}

func decodeCaptcha(root map[string]any) Captcha {
	c, ok := root["captcha"].(map[string]any)
	if !ok {
		return Captcha{}
	}
	return Captcha{
		Present:             true,
		Verified:            getBool(c, "verified"),
		DragDurationMs:      getFloat(c, "dragDurationMs"),
		MouseSpeedVariance:  getFloat(c, "mouseSpeedVariance"),
		NumberOfCorrections: getFloat(c, "numberOfCorrections"),
		ReactionTimeMs:      getFloat(c, "reactionTimeMs"),
		HoneypotTriggered:   getBool(c, "honeypotTriggered"),
		DragDistanceRatio:   getFloat(c, "dragDistanceRatio"),
		ActivationDelayMs:   getFloat(c, "activationDelayMs"),
		EarlyAttempt:        getBool(c, "earlyAttempt"),
		Attempts:            getFloat(c, "attempts"),
		ClientScore:         getFloat(c, "clientScore"),
		Trace:               decodeTrace(c),
	}
}

// decodeTrace reads captcha.trace and captcha.trackTravelPx. Malformed
// events are skipped here; Replay validates ordering and bounds.
func decodeTrace(c map[string]any) *challenge.Trace {
	events, ok := c["trace"].([]any)
	if !ok || len(events) == 0 {
		return nil
	}
	travel := getFloat(c, "trackTravelPx")
	if travel == nil {
		return nil
	}
	tr := &challenge.Trace{TravelPx: *travel}
	if d := getFloat(c, "activationDelayMs"); d != nil {
		tr.ActivationDelayMs = *d
	}
	for _, item := range events {
		ev, ok := item.(map[string]any)
		if !ok {
			continue
		}
		at := getFloat(ev, "t")
		if at == nil {
			continue
		}
		e := challenge.Event{Type: challenge.EventType(getString(ev, "type")), AtMs: *at}
		if x := getFloat(ev, "x"); x != nil {
			e.X = *x
		}
		tr.Events = append(tr.Events, e)
	}
	return tr
}

func decodeFingerprint(f map[string]any) Fingerprint {
	return Fingerprint{
		UserAgent: validation.SanitizeString(getString(f, "userAgent"), maxFingerprintLength),
		Platform:  validation.SanitizeString(getString(f, "platform"), maxFingerprintLength),
		Language:  validation.SanitizeString(getString(f, "language"), maxFingerprintLength),
		Timezone:  validation.SanitizeString(getString(f, "timezone"), maxFingerprintLength),
	}
}

// ============================================================
// Helper Functions
// ============================================================

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

func getFloat(m map[string]any, key string) *float64 {
	if m == nil {
		return nil
	}
	if v, ok := m[key].(float64); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
		return &v
	}
	return nil
}

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

func getBool(m map[string]any, key string) *bool {
	if m == nil {
		return nil
	}
	if v, ok := m[key].(bool); ok {
		return &v
	}
	return nil
}
