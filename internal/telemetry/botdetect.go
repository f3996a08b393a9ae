package telemetry

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mbd888/humancheck/internal/validation"
)

// maxVerdictLength bounds verdict strings the detector may invent.
const maxVerdictLength = 32

// maxFlagLength bounds the fallback label of an unnamed check.
const maxFlagLength = 80

// labelKeys are tried in order to name a check result.
var labelKeys = []string{"name", "type", "key", "id", "rule", "title"}

// BotDetect is the already-computed output of the third-party automation
// detector.
type BotDetect struct {
	Verdict Verdict
	Results []CheckResult
	// Error carries the detector's failure message when it threw client-side.
	Error string
}

// IsBot reports whether the detector called the session automated.
func (b BotDetect) IsBot() bool {
	return b.Verdict == VerdictBot
}

// Failed reports whether the detector was unavailable for this attempt.
func (b BotDetect) Failed() bool {
	return b.Error != ""
}

// Hits counts the raw checks that individually flagged automation.
func (b BotDetect) Hits() int {
	n := 0
	for _, r := range b.Results {
		if r.Hit() {
			n++
		}
	}
	return n
}

// Flags labels every raw check that flagged automation.
func (b BotDetect) Flags() []string {
	var flags []string
	for _, r := range b.Results {
		if r.Hit() {
			flags = append(flags, r.Label())
		}
	}
	return flags
}

// CheckResult is one raw detector check as the client reported it.
type CheckResult map[string]any

// Hit reports whether this check flagged automation: bot is true or "true",
// result or state is "bot", or a numeric score is at least 1.
func (r CheckResult) Hit() bool {
	if r == nil {
		return false
	}
	switch v := r["bot"].(type) {
	case bool:
		if v {
			return true
		}
	case string:
		if v == "true" {
			return true
		}
	}
	if s, _ := r["result"].(string); s == "bot" {
		return true
	}
	if s, _ := r["state"].(string); s == "bot" {
		return true
	}
	if f, ok := r["score"].(float64); ok && f >= 1 {
		return true
	}
	return false
}

// Label names the check by its first non-empty label key, suffixed with
// "=value" when a value is present. Unnamed checks fall back to a truncated
// JSON rendering.
func (r CheckResult) Label() string {
	for _, k := range labelKeys {
		if label := truthyString(r[k]); label != "" {
			if v, ok := r["value"]; ok {
				return label + "=" + renderValue(v)
			}
			return label
		}
	}
	raw, err := json.Marshal(map[string]any(r))
	if err != nil {
		return ""
	}
	return validation.SanitizeString(string(raw), maxFlagLength)
}

// truthyString renders a JSON-decoded scalar for use as a label. Empty,
// false and zero values render as "" so they never name a check.
func truthyString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		if !x {
			return ""
		}
	case float64:
		if x == 0 {
			return ""
		}
	}
	return renderValue(v)
}

func renderValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}

// NormalizeVerdict maps the detector's decision, whatever its JSON shape,
// onto a lower-cased verdict. Strings are lower-cased, booleans mean bot or
// human, objects are read through their bot, human or result fields.
// Anything else is unknown.
func NormalizeVerdict(decision any) Verdict {
	switch v := decision.(type) {
	case string:
		return verdictFromString(v)
	case bool:
		if v {
			return VerdictBot
		}
		return VerdictHuman
	case map[string]any:
		if b, _ := v["bot"].(bool); b {
			return VerdictBot
		}
		if h, _ := v["human"].(bool); h {
			return VerdictHuman
		}
		if s := truthyString(v["result"]); s != "" {
			return verdictFromString(s)
		}
	}
	return VerdictUnknown
}

func verdictFromString(s string) Verdict {
	s = validation.SanitizeString(strings.ToLower(s), maxVerdictLength)
	if s == "" {
		return VerdictUnknown
	}
	return Verdict(s)
}
