// Package auditlog is the append-only audit trail of login attempts.
//
// Each attempt is one record keyed by a fixed, ordered field list. The
// on-disk header is the source of truth for rows already written: when the
// field list grows, EnsureSchema rewrites the store once so that every
// historical row carries the new columns (empty) and keeps its own values
// under their original names.
//
// Values are quoted per RFC 4180. Line breaks inside a value are stored as
// LF: CRLF and lone CR are folded on write, so a value reads back exactly
// as stored.
package auditlog

import (
	"context"
	"errors"
	"strings"
)

// ErrStoreUnavailable is returned when the store cannot be read or written.
var ErrStoreUnavailable = errors.New("auditlog: store unavailable")

// Fields is the current ordered field set of an audit record.
var Fields = []string{
	"timestamp",
	"attemptId",
	"username",
	"decision",
	"label",
	"reasonSummary",
	"riskScore",
	"automationScore",
	"behaviorScore",
	"challengeScore",
	"riskReasons",
	"challengeReasons",
	"automationFlags",
	"botDetectDecision",
	"botSignalCount",
	"botDetectFlags",
	"webdriver",
	"headlessUA",
	"pluginsLength",
	"languagesLength",
	"captchaSource",
	"captchaDragDurationMs",
	"captchaMouseSpeedVariance",
	"captchaCorrections",
	"captchaReactionTimeMs",
	"captchaHoneypotTriggered",
	"captchaDragDistanceRatio",
	"captchaActivationDelayMs",
	"captchaEarlyAttempt",
	"captchaAttempts",
	"captchaVerifiedClient",
	"trapClicked",
	"timeToFirstClickMs",
	"timeToSubmitMs",
	"mouseMoveCount",
	"keystrokeCount",
	"typingDurationMs",
	"typingCps",
	"userAgent",
	"platform",
	"language",
	"timezone",
}

// Record maps field names to cell values. Absent fields read as empty.
type Record map[string]string

// Clone returns an independent copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Counts aggregates verdicts across records.
type Counts struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Report is the read model served to operators.
type Report struct {
	Entries []Record `json:"entries"`
	Counts  Counts   `json:"counts"`
	// NextCursor fetches the page of older entries. Empty on the last page.
	NextCursor string `json:"nextCursor,omitempty"`
}

// Migration describes what EnsureSchema did.
type Migration struct {
	// Created is set when the store did not exist or was empty.
	Created bool `json:"created"`
	// Added lists fields missing from the previous header.
	Added []string `json:"added,omitempty"`
	// Preserved lists on-disk fields no longer in the field set. They are
	// kept after the current fields.
	Preserved []string `json:"preserved,omitempty"`
	Rewritten int      `json:"rewritten"`
	Degraded  int      `json:"degraded"`
}

// Changed reports whether the store was written.
func (m Migration) Changed() bool {
	return m.Created || len(m.Added) > 0
}

// Store is a durable audit trail.
type Store interface {
	// EnsureSchema creates the store or migrates its header to the current
	// field set. It is a no-op when nothing is missing.
	EnsureSchema(ctx context.Context) (Migration, error)
	Append(ctx context.Context, rec Record) error
	ReadAll(ctx context.Context) ([]Record, error)
}

// CountDecisions tallies the decision field.
func CountDecisions(records []Record) Counts {
	var c Counts
	for _, r := range records {
		switch strings.ToUpper(strings.TrimSpace(r["decision"])) {
		case "ACCEPTED":
			c.Accepted++
		case "REJECTED":
			c.Rejected++
		}
	}
	return c
}

// NewReport builds a report over all records.
func NewReport(records []Record) Report {
	if records == nil {
		records = []Record{}
	}
	return Report{Entries: records, Counts: CountDecisions(records)}
}

// Filter returns the records whose decision matches, case-insensitively.
// An empty decision matches every record.
func Filter(records []Record, decision string) []Record {
	if decision == "" {
		return records
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if MatchDecision(r, decision) {
			out = append(out, r)
		}
	}
	return out
}

// MatchDecision reports whether the record's decision equals decision,
// case-insensitively.
func MatchDecision(r Record, decision string) bool {
	return strings.EqualFold(strings.TrimSpace(r["decision"]), decision)
}

// Tail returns the last n records in store order. n <= 0 returns all.
func Tail(records []Record, n int) []Record {
	if n <= 0 || n >= len(records) {
		return records
	}
	return records[len(records)-n:]
}
