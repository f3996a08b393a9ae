// Package risk fuses the signals of a login attempt into a risk score.
//
// Every attempt is evaluated by three independent rule tables: automation
// environment, interaction behavior, and challenge kinematics. Each table
// yields a sub-score in [0, 1]; the overall score is
// automation + behavior + 0.6 × challenge, clamped to [0, 1].
// Scores range from 0.0 (human-like) to 1.0 (automated).
package risk

import (
	"math"

	"github.com/mbd888/humancheck/internal/telemetry"
)

// ChallengeWeight down-weights the challenge sub-score in the overall score.
const ChallengeWeight = 0.6

// Result is the scoring outcome of one attempt. It is never mutated after
// Score returns.
type Result struct {
	Score           float64 `json:"score"`
	AutomationScore float64 `json:"automationScore"`
	BehaviorScore   float64 `json:"behaviorScore"`
	ChallengeScore  float64 `json:"challengeScore"`

	// Reasons lists the automation and behavior penalties in application order.
	Reasons []string `json:"reasons"`

	ChallengeReasons []string `json:"challengeReasons"`

	// Fired names every rule that applied, across all tables.
	Fired []string `json:"fired"`

	TrapClicked       bool     `json:"trapClicked"`
	HoneypotTriggered bool     `json:"honeypotTriggered"`
	BotVerdict        bool     `json:"botVerdict"`
	BotFlags          []string `json:"botFlags"`

	// ClientVerified is the challenge's own accept/reject outcome.
	ClientVerified bool `json:"clientVerified"`

	Features map[string]string `json:"features"`
}

// Rule is one row of a scoring table. Penalty returns 0 when the rule does
// not apply to the submission.
type Rule struct {
	Name    string
	Penalty func(s *telemetry.Submission) float64
	Reason  func(s *telemetry.Submission) string
}

// Scorer evaluates submissions against its rule tables.
type Scorer struct {
	automation []Rule
	behavior   []Rule
	challenge  []Rule
}

// NewScorer creates a scorer with the default rule tables.
func NewScorer() *Scorer {
	return &Scorer{
		automation: AutomationRules(),
		behavior:   BehaviorRules(),
		challenge:  ChallengeRules(),
	}
}

// Score evaluates a submission. It is total over partial input and has no
// side effects.
func (sc *Scorer) Score(s *telemetry.Submission) *Result {
	chScore, chReasons, chFired := sc.scoreChallenge(s)

	r := &Result{
		ChallengeScore:    chScore,
		ChallengeReasons:  chReasons,
		TrapClicked:       s.TrapClicked,
		HoneypotTriggered: s.Captcha.HoneypotFired(),
		BotVerdict:        s.BotDetect.IsBot(),
		BotFlags:          s.BotDetect.Flags(),
		ClientVerified:    s.Captcha.ClientVerified(),
		Features:          Features(s),
	}

	if s.TrapClicked {
		r.Score = 1
		r.AutomationScore = 1
		r.BehaviorScore = 0
		r.Reasons = []string{"trap clicked"}
		r.Fired = append([]string{"trap"}, chFired...)
		return r
	}

	var automation, behavior float64
	var fired []string
	automation, r.Reasons, fired = apply(sc.automation, s, nil, nil)
	behavior, r.Reasons, fired = apply(sc.behavior, s, r.Reasons, fired)
	r.Fired = append(fired, chFired...)

	r.AutomationScore = round(clamp(automation))
	r.BehaviorScore = round(clamp(behavior))
	r.Score = round(clamp(automation + behavior + chScore*ChallengeWeight))
	return r
}

// ChallengeMissingScore is assigned when no kinematic feature was reported.
const ChallengeMissingScore = 0.85

func (sc *Scorer) scoreChallenge(s *telemetry.Submission) (float64, []string, []string) {
	c := s.Captcha
	if c.HoneypotFired() {
		return 1, []string{"captcha honeypot triggered"}, []string{"honeypot"}
	}
	if !c.HasKinematics() {
		return ChallengeMissingScore, []string{"captcha metrics missing"}, []string{"captcha_missing"}
	}
	score, reasons, fired := apply(sc.challenge, s, nil, nil)
	return round(clamp(score)), reasons, fired
}

// apply sums the penalties of every matching rule, appending reasons and
// rule names in table order.
func apply(rules []Rule, s *telemetry.Submission, reasons, fired []string) (float64, []string, []string) {
	var total float64
	for _, rule := range rules {
		p := rule.Penalty(s)
		if p <= 0 {
			continue
		}
		total += p
		reasons = append(reasons, rule.Reason(s))
		fired = append(fired, rule.Name)
	}
	return total, reasons, fired
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	if v > 1.0 {
		return 1.0
	}
	if v < 0.0 {
		return 0.0
	}
	return v
}

// round keeps three decimal places so threshold comparisons are stable
// under floating-point summation.
func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
