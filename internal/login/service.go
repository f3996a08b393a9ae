// Package login runs one login attempt through the pipeline: the decoded
// submission is scored, decided, written to the audit trail and announced
// on the live feed.
//
// The decision path cannot fail. Audit persistence is a separate failure
// domain: a store error is logged and counted but never changes or delays
// the verdict returned to the caller.
package login

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mbd888/humancheck/internal/auditlog"
	"github.com/mbd888/humancheck/internal/challenge"
	"github.com/mbd888/humancheck/internal/decision"
	"github.com/mbd888/humancheck/internal/idgen"
	"github.com/mbd888/humancheck/internal/logging"
	"github.com/mbd888/humancheck/internal/metrics"
	"github.com/mbd888/humancheck/internal/pagination"
	"github.com/mbd888/humancheck/internal/realtime"
	"github.com/mbd888/humancheck/internal/risk"
	"github.com/mbd888/humancheck/internal/telemetry"
	"github.com/mbd888/humancheck/internal/traces"
)

// Feed receives every successfully audited attempt.
type Feed interface {
	BroadcastAttempt(a realtime.Attempt)
}

// Attempt is the evaluated login attempt.
type Attempt struct {
	ID          string
	At          time.Time
	Submission  *telemetry.Submission
	Risk        *risk.Result
	Outcome     decision.Outcome
	TraceIssue  error // why a submitted gesture trace was not replayed
	AuditErr    error
	Audited     bool
	Broadcasted bool
}

// Response is the user-facing reply. It never carries scoring detail.
func (a *Attempt) Response() Response {
	return Response{
		Decision:    string(a.Outcome.Verdict),
		UserMessage: a.Outcome.UserMessage,
		UserReason:  a.Outcome.UserReason,
	}
}

// Response is the body of POST /api/login.
type Response struct {
	Decision    string `json:"decision"`
	UserMessage string `json:"userMessage"`
	UserReason  string `json:"userReason"`
}

// ReportQuery narrows a report. Counts always cover the whole store.
type ReportQuery struct {
	Decision string
	Limit    int
	// Cursor continues from a previous report's NextCursor.
	Cursor string
}

// Service evaluates and records login attempts.
type Service struct {
	scorer *risk.Scorer
	store  auditlog.Store
	feed   Feed
	logger *slog.Logger
	now    func() time.Time

	reports singleflight.Group
}

// NewService creates a login service writing to store.
func NewService(store auditlog.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		scorer: risk.NewScorer(),
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// WithFeed announces audited attempts on feed.
func (s *Service) WithFeed(feed Feed) *Service {
	s.feed = feed
	return s
}

// WithClock overrides the clock used for audit timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Evaluate scores and decides a submission without side effects. The
// caller's submission is not modified.
func (s *Service) Evaluate(ctx context.Context, sub *telemetry.Submission) *Attempt {
	a := &Attempt{ID: idgen.WithPrefix("att_"), At: s.now().UTC()}

	_, span := traces.StartSpan(ctx, "login.evaluate", traces.AttemptID(a.ID))
	defer span.End()

	prepared := *sub
	a.TraceIssue = applyTrace(&prepared.Captcha)
	crossCheckUserAgent(&prepared)

	a.Submission = &prepared
	a.Risk = s.scorer.Score(&prepared)
	a.Outcome = decision.Decide(a.Risk)

	span.SetAttributes(
		traces.Decision(string(a.Outcome.Verdict)),
		traces.Rule(string(a.Outcome.Rule)),
		traces.Score(a.Risk.Score),
	)
	return a
}

// Submit evaluates a submission, appends its audit record and announces it.
// The returned attempt always carries a verdict; AuditErr reports a failed
// write.
func (s *Service) Submit(ctx context.Context, sub *telemetry.Submission) *Attempt {
	a := s.Evaluate(ctx, sub)
	log := logging.L(ctx).With("attempt_id", a.ID)

	if a.Submission.BotDetect.Failed() {
		log.Warn("bot-detect collector failed, verdict treated as unknown",
			"error", a.Submission.BotDetect.Error)
	}
	if a.TraceIssue != nil {
		log.Debug("captcha trace not replayed, using client metrics", "error", a.TraceIssue)
	}

	metrics.ObserveDecision(string(a.Outcome.Verdict), string(a.Outcome.Rule),
		a.Risk.Score, a.Risk.AutomationScore, a.Risk.BehaviorScore, a.Risk.ChallengeScore)

	log.Info("login attempt evaluated",
		"username", a.Submission.Username,
		"decision", a.Outcome.Verdict,
		"rule", a.Outcome.Rule,
		"score", a.Risk.Score,
		"automation_score", a.Risk.AutomationScore,
		"behavior_score", a.Risk.BehaviorScore,
		"challenge_score", a.Risk.ChallengeScore,
		"captcha_source", a.Submission.Captcha.Source(),
	)

	// The caller may go away once the verdict is computed; the audit
	// write still has to land.
	auditCtx := context.WithoutCancel(ctx)
	a.AuditErr = s.store.Append(auditCtx, NewRecord(a))
	metrics.ObserveAuditWrite(a.AuditErr)
	if a.AuditErr != nil {
		log.Error("failed to write audit record", "error", a.AuditErr)
		return a
	}
	a.Audited = true

	if s.feed != nil {
		s.feed.BroadcastAttempt(realtime.Attempt{
			ID:       a.ID,
			Decision: string(a.Outcome.Verdict),
			Rule:     string(a.Outcome.Rule),
			Score:    a.Risk.Score,
		})
		a.Broadcasted = true
	}
	return a
}

// Report reads the audit trail. Concurrent callers share one read.
func (s *Service) Report(ctx context.Context, q ReportQuery) (auditlog.Report, error) {
	v, err, _ := s.reports.Do("all", func() (interface{}, error) {
		return s.store.ReadAll(context.WithoutCancel(ctx))
	})
	if err != nil {
		return auditlog.NewReport(nil), err
	}
	all := v.([]auditlog.Record)
	report := auditlog.Report{Entries: []auditlog.Record{}, Counts: auditlog.CountDecisions(all)}

	cursor, err := pagination.Decode(q.Cursor)
	if err != nil {
		return report, err
	}
	before, err := pagination.Resolve(all, cursor, attemptID)
	if err != nil {
		return report, err
	}

	var keep func(auditlog.Record) bool
	if q.Decision != "" {
		keep = func(r auditlog.Record) bool { return auditlog.MatchDecision(r, q.Decision) }
	}
	entries, next := pagination.Before(all, before, q.Limit, keep)
	report.Entries = nonNil(entries)
	if next >= 0 {
		report.NextCursor = pagination.Encode(pagination.Cursor{Row: next, ID: attemptID(all[next])})
	}
	return report, nil
}

func attemptID(r auditlog.Record) string { return r["attemptId"] }

// applyTrace replaces the client-reported kinematics with a server replay
// of the submitted gesture trace. A missing trace is not an issue.
func applyTrace(c *telemetry.Captcha) error {
	if c.Trace == nil {
		return nil
	}
	snap, err := challenge.Replay(*c.Trace)
	if err != nil {
		return err
	}
	c.ApplyReplay(snap)
	return nil
}

// crossCheckUserAgent flags a headless user agent the client failed to
// report itself.
func crossCheckUserAgent(sub *telemetry.Submission) {
	a := sub.Automation
	if a.HeadlessUA != nil && *a.HeadlessUA {
		return
	}
	if telemetry.MatchHeadlessUA(sub.Fingerprint.UserAgent) {
		headless := true
		sub.Automation.HeadlessUA = &headless
	}
}

func nonNil(records []auditlog.Record) []auditlog.Record {
	if records == nil {
		return []auditlog.Record{}
	}
	return records
}
