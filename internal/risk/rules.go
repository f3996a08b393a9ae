package risk

import (
	"fmt"
	"math"
	"strconv"

	"github.com/mbd888/humancheck/internal/telemetry"
)

// Automation penalties.
const (
	PenaltyBotVerdict   = 0.7
	PenaltyPerBotSignal = 0.05
	MaxBotSignalPenalty = 0.2
	PenaltyWebdriver    = 0.6
	PenaltyHeadlessUA   = 0.5
	PenaltyNoPlugins    = 0.05
	PenaltyNoLanguages  = 0.05
)

// Behavior thresholds and penalties.
const (
	FastFirstClickMs      = 300
	PenaltyFastFirstClick = 0.15
	FastSubmitMs          = 800
	PenaltyFastSubmit     = 0.25
	MinMouseMoves         = 2
	PenaltyFewMouseMoves  = 0.1
	MaxTypingCPS          = 12
	PenaltyFastTyping     = 0.15
)

// Challenge thresholds and penalties.
const (
	PenaltyEarlyAttempt = 0.2

	FastReactionMs      = 220
	PenaltyFastReaction = 0.35

	FastDragMs      = 350
	PenaltyFastDrag = 0.4
	SlowDragMs      = 6000
	PenaltySlowDrag = 0.25

	FlatVarianceThreshold = 0.002
	RoboticMaxDurationMs  = 1200
	PenaltyRoboticPattern = 0.6
	PenaltyFlatVariance   = 0.25
	PenaltyNoCorrections  = 0.1

	ShortDistanceRatio   = 0.45
	PenaltyShortDistance = 0.35
	PenaltyNotVerified   = 0.1
)

// when returns a fixed penalty while cond holds.
func when(penalty float64, cond func(s *telemetry.Submission) bool) func(s *telemetry.Submission) float64 {
	return func(s *telemetry.Submission) float64 {
		if cond(s) {
			return penalty
		}
		return 0
	}
}

func static(reason string) func(*telemetry.Submission) string {
	return func(*telemetry.Submission) string { return reason }
}

// AutomationRules is the environment-evidence table.
func AutomationRules() []Rule {
	return []Rule{
		{
			Name:    "bot_verdict",
			Penalty: when(PenaltyBotVerdict, func(s *telemetry.Submission) bool { return s.BotDetect.IsBot() }),
			Reason:  static("bot-detect flagged automation"),
		},
		{
			Name: "bot_signals",
			Penalty: func(s *telemetry.Submission) float64 {
				return math.Min(MaxBotSignalPenalty, float64(s.BotDetect.Hits())*PenaltyPerBotSignal)
			},
			Reason: func(s *telemetry.Submission) string {
				return fmt.Sprintf("automation signals present (count %d)", s.BotDetect.Hits())
			},
		},
		{
			Name:    "webdriver",
			Penalty: when(PenaltyWebdriver, func(s *telemetry.Submission) bool { return isTrue(s.Automation.Webdriver) }),
			Reason:  static("navigator.webdriver=true"),
		},
		{
			Name:    "headless_ua",
			Penalty: when(PenaltyHeadlessUA, func(s *telemetry.Submission) bool { return isTrue(s.Automation.HeadlessUA) }),
			Reason:  static("headless user agent detected"),
		},
		{
			Name:    "no_plugins",
			Penalty: when(PenaltyNoPlugins, func(s *telemetry.Submission) bool { return isZero(s.Automation.PluginsLength) }),
			Reason:  static("pluginsLength=0"),
		},
		{
			Name:    "no_languages",
			Penalty: when(PenaltyNoLanguages, func(s *telemetry.Submission) bool { return isZero(s.Automation.LanguagesLength) }),
			Reason:  static("languagesLength=0"),
		},
	}
}

// BehaviorRules is the interaction-timing table. Negative values are
// treated as absent.
func BehaviorRules() []Rule {
	return []Rule{
		{
			Name: "fast_first_click",
			Penalty: when(PenaltyFastFirstClick, func(s *telemetry.Submission) bool {
				return below(s.Behavior.Timing.TimeToFirstClickMs, FastFirstClickMs)
			}),
			Reason: func(s *telemetry.Submission) string {
				return fmt.Sprintf("first click very fast (%sms)", num(*s.Behavior.Timing.TimeToFirstClickMs))
			},
		},
		{
			Name: "fast_submit",
			Penalty: when(PenaltyFastSubmit, func(s *telemetry.Submission) bool {
				return below(s.Behavior.Timing.TimeToSubmitMs, FastSubmitMs)
			}),
			Reason: func(s *telemetry.Submission) string {
				return fmt.Sprintf("form submitted very fast (%sms)", num(*s.Behavior.Timing.TimeToSubmitMs))
			},
		},
		{
			Name: "few_mouse_moves",
			Penalty: when(PenaltyFewMouseMoves, func(s *telemetry.Submission) bool {
				return below(s.Behavior.MouseMoveCount, MinMouseMoves)
			}),
			Reason: func(s *telemetry.Submission) string {
				return fmt.Sprintf("mouse movement low (%s)", num(*s.Behavior.MouseMoveCount))
			},
		},
		{
			Name: "fast_typing",
			Penalty: when(PenaltyFastTyping, func(s *telemetry.Submission) bool {
				cps := typingCPS(s)
				return cps != nil && *cps > MaxTypingCPS
			}),
			Reason: func(s *telemetry.Submission) string {
				return fmt.Sprintf("typing speed high (%.1f cps)", *typingCPS(s))
			},
		},
	}
}

// ChallengeRules is the kinematics table. It runs only when the honeypot did
// not fire and at least one kinematic feature was reported.
func ChallengeRules() []Rule {
	return []Rule{
		{
			Name:    "early_attempt",
			Penalty: when(PenaltyEarlyAttempt, func(s *telemetry.Submission) bool { return isTrue(s.Captcha.EarlyAttempt) }),
			Reason:  static("drag attempted before activation"),
		},
		{
			Name: "fast_reaction",
			Penalty: when(PenaltyFastReaction, func(s *telemetry.Submission) bool {
				return below(s.Captcha.ReactionTimeMs, FastReactionMs)
			}),
			Reason: func(s *telemetry.Submission) string {
				return fmt.Sprintf("reaction too fast (%sms)", num(*s.Captcha.ReactionTimeMs))
			},
		},
		{
			Name: "fast_drag",
			Penalty: when(PenaltyFastDrag, func(s *telemetry.Submission) bool {
				return below(s.Captcha.DragDurationMs, FastDragMs)
			}),
			Reason: func(s *telemetry.Submission) string {
				return fmt.Sprintf("drag too fast (%sms)", num(*s.Captcha.DragDurationMs))
			},
		},
		{
			Name: "slow_drag",
			Penalty: when(PenaltySlowDrag, func(s *telemetry.Submission) bool {
				d := s.Captcha.DragDurationMs
				return d != nil && *d > SlowDragMs
			}),
			Reason: func(s *telemetry.Submission) string {
				return fmt.Sprintf("drag too slow (%sms)", num(*s.Captcha.DragDurationMs))
			},
		},
		{
			Name:    "robotic_pattern",
			Penalty: when(PenaltyRoboticPattern, roboticPattern),
			Reason: func(s *telemetry.Submission) string {
				return fmt.Sprintf("robotic drag pattern (flat speed, no corrections, %sms)", num(*s.Captcha.DragDurationMs))
			},
		},
		{
			Name: "flat_speed",
			Penalty: when(PenaltyFlatVariance, func(s *telemetry.Submission) bool {
				return !roboticPattern(s) && below(s.Captcha.MouseSpeedVariance, FlatVarianceThreshold)
			}),
			Reason: func(s *telemetry.Submission) string {
				return fmt.Sprintf("drag speed too uniform (variance %s)", num(*s.Captcha.MouseSpeedVariance))
			},
		},
		{
			Name: "no_corrections",
			Penalty: when(PenaltyNoCorrections, func(s *telemetry.Submission) bool {
				return !roboticPattern(s) && isZero(s.Captcha.NumberOfCorrections)
			}),
			Reason: static("no drag corrections"),
		},
		{
			Name: "short_distance",
			Penalty: when(PenaltyShortDistance, func(s *telemetry.Submission) bool {
				return below(s.Captcha.DragDistanceRatio, ShortDistanceRatio)
			}),
			Reason: func(s *telemetry.Submission) string {
				return fmt.Sprintf("drag distance short (ratio %.2f)", *s.Captcha.DragDistanceRatio)
			},
		},
		{
			Name:    "not_verified",
			Penalty: when(PenaltyNotVerified, func(s *telemetry.Submission) bool { return !s.Captcha.ClientVerified() }),
			Reason:  static("captcha not verified"),
		},
	}
}

// roboticPattern is the compound rule: near-zero speed variance, zero
// corrections and a short drag, all reported together.
func roboticPattern(s *telemetry.Submission) bool {
	c := s.Captcha
	return below(c.MouseSpeedVariance, FlatVarianceThreshold) &&
		isZero(c.NumberOfCorrections) &&
		below(c.DragDurationMs, RoboticMaxDurationMs)
}

func typingCPS(s *telemetry.Submission) *float64 {
	return telemetry.CharsPerSecond(s.Behavior.KeystrokeCount, s.Behavior.TypingDurationMs)
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

func isZero(v *float64) bool {
	return v != nil && *v == 0
}

// below reports whether a present, non-negative value is under limit.
func below(v *float64, limit float64) bool {
	return v != nil && *v >= 0 && *v < limit
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
