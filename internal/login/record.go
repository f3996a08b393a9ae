package login

import (
	"strconv"
	"strings"

	"github.com/mbd888/humancheck/internal/auditlog"
)

// TimestampLayout is UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// NewRecord flattens an evaluated attempt into its audit record. Scores are
// written with two decimals; absent optional values are empty.
func NewRecord(a *Attempt) auditlog.Record {
	rec := make(auditlog.Record, len(auditlog.Fields))
	for k, v := range a.Risk.Features {
		rec[k] = v
	}

	sub := a.Submission
	rec["timestamp"] = a.At.UTC().Format(TimestampLayout)
	rec["attemptId"] = a.ID
	rec["username"] = sub.Username
	rec["decision"] = string(a.Outcome.Verdict)
	rec["label"] = a.Outcome.Label
	rec["reasonSummary"] = a.Outcome.ReasonSummary

	rec["riskScore"] = score(a.Risk.Score)
	rec["automationScore"] = score(a.Risk.AutomationScore)
	rec["behaviorScore"] = score(a.Risk.BehaviorScore)
	rec["challengeScore"] = score(a.Risk.ChallengeScore)
	rec["riskReasons"] = strings.Join(a.Risk.Reasons, "; ")
	rec["challengeReasons"] = strings.Join(a.Risk.ChallengeReasons, "; ")

	rec["userAgent"] = sub.Fingerprint.UserAgent
	rec["platform"] = sub.Fingerprint.Platform
	rec["language"] = sub.Fingerprint.Language
	rec["timezone"] = sub.Fingerprint.Timezone
	return rec
}

func score(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
