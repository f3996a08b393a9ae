// Package decision turns a risk scoring result into the accept/reject
// verdict of a login attempt.
//
// Rules are evaluated in a fixed order and the first match wins: trap,
// honeypot, detector verdict, challenge threshold, overall threshold.
// The internal reason summary is written to the audit trail only; the
// user-facing message never reveals scoring detail.
package decision

import (
	"strings"

	"github.com/mbd888/humancheck/internal/risk"
)

// Verdict is the outcome of a login attempt.
type Verdict string

const (
	Accepted Verdict = "ACCEPTED"
	Rejected Verdict = "REJECTED"
)

// Fixed thresholds.
const (
	ChallengeThreshold = 0.6
	ScoreThreshold     = 0.6
)

// Rule names the override that produced a verdict.
type Rule string

const (
	RuleTrap       Rule = "trap"
	RuleHoneypot   Rule = "honeypot"
	RuleBotVerdict Rule = "bot_verdict"
	RuleChallenge  Rule = "challenge_threshold"
	RuleScore      Rule = "score_threshold"
	RuleNone       Rule = "none"
)

// Labels written to the audit trail.
const (
	LabelHuman = "Human"
	LabelBot   = "Bot"
)

// Outcome is the full decision for one attempt.
type Outcome struct {
	Verdict       Verdict `json:"decision"`
	Rule          Rule    `json:"rule"`
	Label         string  `json:"label"`
	ReasonSummary string  `json:"reasonSummary"`
	UserMessage   string  `json:"userMessage"`
	UserReason    string  `json:"userReason"`
}

// Decide applies the ordered rules to a scoring result.
func Decide(r *risk.Result) Outcome {
	verdict, rule := evaluate(r)

	o := Outcome{
		Verdict:       verdict,
		Rule:          rule,
		Label:         LabelBot,
		ReasonSummary: Summarize(r, verdict),
	}
	if verdict == Accepted {
		o.Label = LabelHuman
	}
	o.UserMessage, o.UserReason = Feedback(r, verdict)
	return o
}

func evaluate(r *risk.Result) (Verdict, Rule) {
	switch {
	case r.TrapClicked:
		return Rejected, RuleTrap
	case r.HoneypotTriggered:
		return Rejected, RuleHoneypot
	case r.BotVerdict:
		return Rejected, RuleBotVerdict
	case r.ChallengeScore >= ChallengeThreshold:
		return Rejected, RuleChallenge
	case r.Score >= ScoreThreshold:
		return Rejected, RuleScore
	default:
		return Accepted, RuleNone
	}
}

// Summarize builds the internal reason summary, most decisive evidence first.
func Summarize(r *risk.Result, verdict Verdict) string {
	if r.TrapClicked {
		return "Hidden trap interaction"
	}
	if r.HoneypotTriggered {
		return "Hidden field triggered"
	}

	var parts []string
	if r.BotVerdict {
		if len(r.BotFlags) > 0 {
			parts = append(parts, "bot-detect: "+strings.Join(r.BotFlags, ", "))
		} else {
			parts = append(parts, "bot-detect flagged automation")
		}
	}
	if verdict == Rejected {
		if len(r.Reasons) > 0 {
			parts = append(parts, "risk signals: "+strings.Join(r.Reasons, ", "))
		} else {
			parts = append(parts, "risk signals elevated")
		}
	}
	if r.ChallengeScore >= ChallengeThreshold {
		if len(r.ChallengeReasons) > 0 {
			parts = append(parts, "challenge: "+strings.Join(r.ChallengeReasons, ", "))
		} else {
			parts = append(parts, "challenge anomalies detected")
		}
	}

	if len(parts) == 0 {
		return "Human-like behavior"
	}
	return strings.Join(parts, " | ")
}

const (
	msgAccepted = "Verification successful."
	msgRejected = "We could not verify this attempt."

	reasonAccepted        = "Thanks for completing the human check."
	reasonCompleteSlider  = "Please complete the slider verification and try again."
	reasonStandardBrowser = "Please try again using a standard browser session."
	reasonNatural         = "Please try again and interact naturally."
)

// Feedback returns the user-facing message and reason. Rejections share one
// message and differ only in the suggested remedy.
func Feedback(r *risk.Result, verdict Verdict) (message, reason string) {
	switch {
	case verdict == Accepted:
		return msgAccepted, reasonAccepted
	case !r.ClientVerified || r.HoneypotTriggered:
		return msgRejected, reasonCompleteSlider
	case r.TrapClicked || r.BotVerdict:
		return msgRejected, reasonStandardBrowser
	default:
		return msgRejected, reasonNatural
	}
}
