package risk

import (
	"strconv"
	"strings"

	"github.com/mbd888/humancheck/internal/telemetry"
)

// Features flattens the derived values of a submission into audit cells,
// keyed by audit field name. Absent values are empty strings.
func Features(s *telemetry.Submission) map[string]string {
	c := s.Captcha
	b := s.Behavior
	a := s.Automation

	return map[string]string{
		"botDetectDecision": string(s.BotDetect.Verdict),
		"botSignalCount":    strconv.Itoa(s.BotDetect.Hits()),
		"botDetectFlags":    strings.Join(s.BotDetect.Flags(), "; "),
		"automationFlags":   strings.Join(telemetry.AutomationFlags(s), "; "),

		"webdriver":       fmtBool(a.Webdriver),
		"headlessUA":      fmtBool(a.HeadlessUA),
		"pluginsLength":   fmtFloat(a.PluginsLength),
		"languagesLength": fmtFloat(a.LanguagesLength),

		"captchaSource":             c.Source(),
		"captchaDragDurationMs":     fmtFloat(c.DragDurationMs),
		"captchaMouseSpeedVariance": fmtFloat(c.MouseSpeedVariance),
		"captchaCorrections":        fmtFloat(c.NumberOfCorrections),
		"captchaReactionTimeMs":     fmtFloat(c.ReactionTimeMs),
		"captchaHoneypotTriggered":  fmtBool(c.HoneypotTriggered),
		"captchaDragDistanceRatio":  fmtFloat(c.DragDistanceRatio),
		"captchaActivationDelayMs":  fmtFloat(c.ActivationDelayMs),
		"captchaEarlyAttempt":       fmtBool(c.EarlyAttempt),
		"captchaAttempts":           fmtFloat(c.Attempts),
		"captchaVerifiedClient":     fmtBool(c.Verified),

		"trapClicked":        strconv.FormatBool(s.TrapClicked),
		"timeToFirstClickMs": fmtFloat(b.Timing.TimeToFirstClickMs),
		"timeToSubmitMs":     fmtFloat(b.Timing.TimeToSubmitMs),
		"mouseMoveCount":     fmtFloat(b.MouseMoveCount),
		"keystrokeCount":     fmtFloat(b.KeystrokeCount),
		"typingDurationMs":   fmtFloat(b.TypingDurationMs),
		"typingCps":          fmtFixed(telemetry.CharsPerSecond(b.KeystrokeCount, b.TypingDurationMs)),
	}
}

func fmtBool(v *bool) string {
	if v == nil {
		return ""
	}
	return strconv.FormatBool(*v)
}

func fmtFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func fmtFixed(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}
