// Package engine orchestrates one conversation turn: match, classify, clarify
// or collect, compose, deliver. All session mutation happens inside the
// store's per-session critical section, so turns on one session serialize.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webential/deskrouter/engine/classifier"
	"github.com/webential/deskrouter/engine/collector"
	"github.com/webential/deskrouter/engine/composer"
	"github.com/webential/deskrouter/engine/corpus"
	"github.com/webential/deskrouter/engine/delivery"
	"github.com/webential/deskrouter/engine/matcher"
	"github.com/webential/deskrouter/engine/metrics"
	"github.com/webential/deskrouter/engine/session"
)

// ReasonDeliveryFailed marks sessions escalated because the gateway rejected
// every delivery attempt. The composed request stays on the session for
// manual resend.
const ReasonDeliveryFailed = "delivery_failed"

// Config tunes the engine.
type Config struct {
	Thresholds     classifier.Thresholds
	Collector      collector.Config
	SessionTimeout time.Duration
	SweepInterval  time.Duration
}

// DefaultConfig returns the shipped engine configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:     classifier.DefaultThresholds(),
		Collector:      collector.DefaultConfig(),
		SessionTimeout: 30 * time.Minute,
		SweepInterval:  time.Minute,
	}
}

// TurnResult is what a caller shows the user after one turn.
type TurnResult struct {
	SessionID string               `json:"session_id"`
	State     session.State        `json:"state"`
	Reply     string               `json:"reply"`
	Decision  *classifier.Decision `json:"decision,omitempty"`
	TicketRef string               `json:"ticket_ref,omitempty"`
}

// Engine wires the routing pipeline together.
type Engine struct {
	corpus    *corpus.Corpus
	matcher   *matcher.Matcher
	collector *collector.Collector
	composer  *composer.Composer
	deliverer *delivery.Client
	store     session.Store
	archiver  session.Archiver
	exporter  *metrics.PrometheusExporter
	cfg       Config

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates an Engine. Nil store, archiver, and exporter get in-process
// defaults; corpus, matcher, and deliverer are required.
func New(c *corpus.Corpus, m *matcher.Matcher, col *collector.Collector, d *delivery.Client, store session.Store, archiver session.Archiver, exporter *metrics.PrometheusExporter, cfg Config) *Engine {
	if store == nil {
		store = session.NewMemoryStore()
	}
	if archiver == nil {
		archiver = session.NoopArchiver{}
	}
	if exporter == nil {
		exporter = metrics.NewPrometheusExporter(metrics.DefaultConfig())
	}
	if col == nil {
		col = collector.New(nil, cfg.Collector)
	}
	def := DefaultConfig()
	if cfg.Thresholds == (classifier.Thresholds{}) {
		cfg.Thresholds = def.Thresholds
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = def.SessionTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if d != nil {
		d.OnRetry = func(int) { exporter.RecordDeliveryRetry() }
	}
	return &Engine{
		corpus:    c,
		matcher:   m,
		collector: col,
		composer:  composer.New(),
		deliverer: d,
		store:     store,
		archiver:  archiver,
		exporter:  exporter,
		cfg:       cfg,
		done:      make(chan struct{}),
	}
}

// Metrics exposes the Prometheus exporter for the transport layer.
func (e *Engine) Metrics() *metrics.PrometheusExporter {
	return e.exporter
}

// Corpus exposes the live corpus for the transport layer.
func (e *Engine) Corpus() *corpus.Corpus {
	return e.corpus
}

// Session returns a snapshot of one session.
func (e *Engine) Session(id string) (*session.Session, error) {
	return e.store.Get(id)
}

// ActiveSessions reports the live session count.
func (e *Engine) ActiveSessions() int {
	return e.store.Len()
}

// HandleTurn processes one user message. An empty sessionID starts a fresh
// session; the generated id comes back in the result.
func (e *Engine) HandleTurn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	now := time.Now()
	start := now

	var result *TurnResult
	err := e.store.Update(sessionID, now, func(sess *session.Session) error {
		if sess.Expired(now, e.cfg.SessionTimeout) {
			e.retire(ctx, sess, now)
		}

		if sess.State.Terminal() {
			result = e.terminalResult(sess)
			return nil
		}

		sess.TurnCount++
		sess.Touch(now)
		sess.AppendTranscript(session.RoleUser, text, now)

		var err error
		result, err = e.advance(ctx, sess, text, now)
		if err != nil {
			return err
		}
		if result.Reply != "" {
			sess.AppendTranscript(session.RoleAssistant, result.Reply, now)
		}
		if sess.State.Terminal() {
			e.exporter.RecordSessionClosed(string(sess.State))
			if aerr := e.archiver.Archive(ctx, sess.Clone()); aerr != nil {
				slog.Error("archive terminal session", "session_id", sess.ID, "error", aerr)
			}
		}
		return nil
	})

	success := err == nil
	state := ""
	if result != nil {
		state = string(result.State)
	}
	e.exporter.RecordTurn(state, time.Since(start), success)
	e.exporter.SetActiveSessions(e.store.Len())
	if err != nil {
		return nil, err
	}
	return result, nil
}

// retire archives an expired session as abandoned and resets it in place so
// the id starts a fresh conversation.
func (e *Engine) retire(ctx context.Context, sess *session.Session, now time.Time) {
	if !sess.State.Terminal() {
		old := sess.Clone()
		old.State = session.StateAbandoned
		if err := e.archiver.Archive(ctx, old); err != nil {
			slog.Error("archive expired session", "session_id", sess.ID, "error", err)
		}
		e.exporter.RecordSessionClosed(string(session.StateAbandoned))
	}
	slog.Info("session expired, starting fresh", "session_id", sess.ID)
	*sess = *session.New(sess.ID, now)
}

func (e *Engine) terminalResult(sess *session.Session) *TurnResult {
	reply := "This conversation has ended. Start a new session to raise another request."
	switch sess.State {
	case session.StateSent:
		reply = "Your request was already routed. Start a new session to raise another one."
	case session.StateEscalated:
		reply = "This request was handed to a colleague. Start a new session to raise another one."
	}
	return &TurnResult{SessionID: sess.ID, State: sess.State, Reply: reply}
}

// advance runs the state machine for one non-terminal turn.
func (e *Engine) advance(ctx context.Context, sess *session.Session, text string, now time.Time) (*TurnResult, error) {
	snap := e.corpus.Snapshot()

	switch sess.State {
	case session.StateAwaitingQuery:
		return e.handleQuery(ctx, sess, snap, text, now)

	case session.StateClarifying:
		profile, outcome := e.collector.ResolveClarify(sess, snap, text)
		if outcome.Rematch {
			// The reply is a rephrased query; match it on its own.
			return e.handleQuery(ctx, sess, snap, text, now)
		}
		if profile != nil {
			sess.RecordDecision(string(classifier.KindRoute), profile.ID, 0, "clarify_confirmed", now)
			e.exporter.RecordDecision(string(classifier.KindRoute), profile.ID)
		}
		return e.finishOutcome(ctx, sess, snap, outcome)

	case session.StateCollectingContext:
		profile, ok := snap.Get(sess.CandidateDepartmentID)
		if !ok {
			// The candidate vanished in a corpus reload; re-route.
			sess.State = session.StateAwaitingQuery
			sess.SetCandidate("")
			return e.handleQuery(ctx, sess, snap, text, now)
		}
		outcome, err := e.collector.HandleSlotTurn(sess, profile, text)
		if err != nil {
			return nil, err
		}
		return e.finishOutcome(ctx, sess, snap, outcome)

	default:
		return nil, fmt.Errorf("unexpected session state %s", sess.State)
	}
}

// handleQuery matches and classifies a free-form query, then routes,
// clarifies, or escalates.
func (e *Engine) handleQuery(ctx context.Context, sess *session.Session, snap *corpus.Snapshot, text string, now time.Time) (*TurnResult, error) {
	if snap.Len() == 0 {
		decision := classifier.Escalate(classifier.ReasonNoDepartments)
		return e.applyDecision(ctx, sess, snap, decision, nil, now)
	}

	result, err := e.matcher.Match(ctx, text, snap)
	if errors.Is(err, matcher.ErrInvalidQuery) {
		return &TurnResult{
			SessionID: sess.ID,
			State:     sess.State,
			Reply:     "Please describe what you need help with.",
		}, nil
	}
	if err != nil {
		slog.Error("matcher unavailable", "session_id", sess.ID, "error", err)
		decision := classifier.Escalate(classifier.ReasonProviderUnavailable)
		return e.applyDecision(ctx, sess, snap, decision, nil, now)
	}

	decision := classifier.Classify(result, e.cfg.Thresholds)
	return e.applyDecision(ctx, sess, snap, decision, result, now)
}

func (e *Engine) applyDecision(ctx context.Context, sess *session.Session, snap *corpus.Snapshot, decision classifier.Decision, ranked matcher.SimilarityResult, now time.Time) (*TurnResult, error) {
	sess.RecordDecision(string(decision.Kind), decision.DepartmentID, decision.Score, decision.Reason, now)
	e.exporter.RecordDecision(string(decision.Kind), decision.DepartmentID)

	switch decision.Kind {
	case classifier.KindRoute:
		profile, ok := snap.Get(decision.DepartmentID)
		if !ok {
			return nil, fmt.Errorf("decision names unknown department %s", decision.DepartmentID)
		}
		outcome := e.collector.StartCollecting(sess, profile)
		res, err := e.finishOutcome(ctx, sess, snap, outcome)
		if err != nil {
			return nil, err
		}
		res.Decision = &decision
		return res, nil

	case classifier.KindClarify:
		candidates := make([]string, 0, 3)
		for _, s := range ranked {
			if len(candidates) == 3 {
				break
			}
			candidates = append(candidates, s.DepartmentID)
		}
		outcome := e.collector.BeginClarify(sess, snap, candidates)
		res, err := e.finishOutcome(ctx, sess, snap, outcome)
		if err != nil {
			return nil, err
		}
		res.Decision = &decision
		return res, nil

	case classifier.KindEscalate:
		sess.Escalate(decision.Reason)
		return &TurnResult{
			SessionID: sess.ID,
			State:     sess.State,
			Reply:     "I could not route this automatically. A colleague will pick it up shortly.",
			Decision:  &decision,
		}, nil

	default:
		return nil, fmt.Errorf("unknown decision kind %q", decision.Kind)
	}
}

// finishOutcome turns a collector outcome into a result, delivering when
// collection finished.
func (e *Engine) finishOutcome(ctx context.Context, sess *session.Session, snap *corpus.Snapshot, outcome collector.Outcome) (*TurnResult, error) {
	if outcome.Ready {
		return e.deliver(ctx, sess, snap)
	}
	return &TurnResult{SessionID: sess.ID, State: sess.State, Reply: outcome.Prompt}, nil
}

// deliver composes the routing request and sends it. Failure escalates but
// keeps the composed request on the session.
func (e *Engine) deliver(ctx context.Context, sess *session.Session, snap *corpus.Snapshot) (*TurnResult, error) {
	profile, ok := snap.Get(sess.CandidateDepartmentID)
	if !ok {
		return nil, fmt.Errorf("candidate department %s missing from corpus", sess.CandidateDepartmentID)
	}

	req, err := e.composer.Compose(sess, profile)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal routing request: %w", err)
	}
	sess.ComposedRequest = raw

	deliverErr := e.deliverer.Deliver(ctx, req)
	sess.DeliveryAttempts++

	if deliverErr != nil {
		e.exporter.RecordDelivery(false)
		sess.Escalate(ReasonDeliveryFailed)
		slog.Error("delivery exhausted, escalating",
			"session_id", sess.ID,
			"ticket_ref", req.TicketRef,
			"error", deliverErr)
		return &TurnResult{
			SessionID: sess.ID,
			State:     sess.State,
			Reply:     "I collected everything needed but could not hand it over automatically. A colleague will follow up.",
			TicketRef: req.TicketRef,
		}, nil
	}

	e.exporter.RecordDelivery(true)
	sess.State = session.StateSent
	reply := fmt.Sprintf("All set. Your request %s has been routed to %s; they will reach out by email.", req.TicketRef, profile.Name)
	return &TurnResult{
		SessionID: sess.ID,
		State:     sess.State,
		Reply:     reply,
		TicketRef: req.TicketRef,
	}, nil
}

// Reset abandons a session on user request and removes it from the live set.
func (e *Engine) Reset(ctx context.Context, sessionID string) error {
	sess, err := e.store.Get(sessionID)
	if err != nil {
		return err
	}
	// Terminal sessions were archived when they closed; just evict those.
	if !sess.State.Terminal() {
		sess.State = session.StateAbandoned
		if err := e.archiver.Archive(ctx, sess); err != nil {
			return err
		}
		e.exporter.RecordSessionClosed(string(sess.State))
	}
	e.store.Remove(sessionID)
	e.exporter.SetActiveSessions(e.store.Len())
	return nil
}

// StartSweeper launches the background expiry sweep. Call Shutdown to stop.
func (e *Engine) StartSweeper(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.sweep(ctx, time.Now())
			case <-e.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// sweep abandons and evicts sessions past the inactivity timeout.
func (e *Engine) sweep(ctx context.Context, now time.Time) {
	expired := e.store.Expired(now, e.cfg.SessionTimeout)
	for _, sess := range expired {
		// Terminal sessions were archived when they closed; just evict.
		if !sess.State.Terminal() {
			sess.State = session.StateAbandoned
			e.exporter.RecordSessionClosed(string(session.StateAbandoned))
			if err := e.archiver.Archive(ctx, sess); err != nil {
				slog.Error("archive swept session", "session_id", sess.ID, "error", err)
				continue
			}
		}
		e.store.Remove(sess.ID)
		e.exporter.RecordSessionSwept()
	}
	if len(expired) > 0 {
		slog.Info("session sweep complete", "swept", len(expired), "live", e.store.Len())
		e.exporter.SetActiveSessions(e.store.Len())
	}
}

// Shutdown stops background work and closes the archiver.
func (e *Engine) Shutdown(ctx context.Context) error {
	close(e.done)
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.archiver.Close()
}
