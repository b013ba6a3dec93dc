// Package engine runs turns: it narrates the player's action, extracts the
// state changes the narration implies, applies them and persists the result.
//
// Generator calls happen outside any lock, on an immutable snapshot. Only the
// newest turn of a session may commit; older ones are discarded wholesale.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/samber/oops"

	"github.com/tatianab/chronicle/internal/delta"
	"github.com/tatianab/chronicle/internal/migrate"
	"github.com/tatianab/chronicle/internal/models"
	"github.com/tatianab/chronicle/internal/reducer"
	"github.com/tatianab/chronicle/internal/store"
)

const (
	// DefaultHistoryWindow is how many history entries are kept verbatim
	// before older ones are folded into the summary.
	DefaultHistoryWindow = 8
	keepAfterSummary     = 3
)

// Options configures an Engine. Store and Generator are required.
type Options struct {
	Store         store.Store
	Generator     Generator
	Migrator      *migrate.Migrator
	Reducer       *reducer.Reducer
	Limits        *delta.Limits
	HistoryWindow int
	Logger        *slog.Logger
}

type Engine struct {
	store         store.Store
	gen           Generator
	migrator      *migrate.Migrator
	reducer       *reducer.Reducer
	limits        delta.Limits
	historyWindow int
	logger        *slog.Logger
}

// New returns an Engine, filling unset options with defaults.
func New(opts Options) *Engine {
	e := &Engine{
		store:         opts.Store,
		gen:           opts.Generator,
		migrator:      opts.Migrator,
		reducer:       opts.Reducer,
		limits:        delta.DefaultLimits(),
		historyWindow: opts.HistoryWindow,
		logger:        opts.Logger,
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.migrator == nil {
		e.migrator = migrate.New(nil, e.logger)
	}
	if e.reducer == nil {
		e.reducer = reducer.New(e.logger)
	}
	if opts.Limits != nil {
		e.limits = *opts.Limits
	}
	if e.historyWindow <= 0 {
		e.historyWindow = DefaultHistoryWindow
	}
	return e
}

// TurnOutcome is everything one turn produced.
type TurnOutcome struct {
	Action    string
	Narrative string
	Before    models.WorldState
	State     models.WorldState
	Applied   []delta.Delta
	// Discarded are raw deltas that failed validation against the state.
	Discarded []delta.Rejection
	// Rejected are validated deltas the reducer refused.
	Rejected  []reducer.Rejected
	Completed []string
	// ExtractionErr is set when the structured call failed. It wraps
	// ErrExtractionService; the turn still happened, with zero deltas.
	ExtractionErr error
}

// AppliedDescriptions describes the applied deltas in application order.
func (o TurnOutcome) AppliedDescriptions() []string {
	out := make([]string, 0, len(o.Applied))
	for _, d := range o.Applied {
		out = append(out, d.Describe())
	}
	return out
}

// RejectedReasons lists everything that did not make it into the state.
func (o TurnOutcome) RejectedReasons() []string {
	out := make([]string, 0, len(o.Discarded)+len(o.Rejected)+1)
	if o.ExtractionErr != nil {
		out = append(out, o.ExtractionErr.Error())
	}
	for _, r := range o.Discarded {
		out = append(out, r.String())
	}
	for _, r := range o.Rejected {
		out = append(out, r.String())
	}
	return out
}

// Changes lists what the turn changed, for display.
func (o TurnOutcome) Changes() []string {
	return models.Diff(o.Before, o.State)
}

// ApplyTurn extracts deltas from narrative and applies them to s. It does not
// persist anything. A failed extraction is not an error: the outcome carries
// ExtractionErr and the end-of-turn pass still runs. Only cancellation of ctx
// is returned as an error.
func (e *Engine) ApplyTurn(ctx context.Context, s models.WorldState, narrative string) (TurnOutcome, error) {
	out := TurnOutcome{Narrative: narrative, Before: s}

	var accepted []delta.Delta
	if strings.TrimSpace(narrative) != "" {
		cands := delta.CandidatesFor(s)
		raw, err := e.extract(ctx, narrative, cands)
		switch {
		case ctx.Err() != nil:
			return TurnOutcome{}, ctx.Err()
		case err != nil:
			out.ExtractionErr = fmt.Errorf("%w: %w", ErrExtractionService, err)
			e.logger.Warn("delta extraction failed; no deltas this turn", "err", err)
		default:
			res := delta.Extract(s, cands, raw, e.limits)
			accepted = res.Accepted
			out.Discarded = res.Rejected
			for _, r := range res.Rejected {
				e.logger.Info("raw delta rejected", "index", r.Index, "kind", r.Kind, "reason", r.Reason, "evidence", r.Evidence)
			}
		}
	}

	tr := e.reducer.ApplyTurn(s, accepted)
	out.State = tr.State
	out.Applied = tr.Applied
	out.Rejected = tr.Rejected
	out.Completed = tr.Completed
	return out, nil
}

func (e *Engine) extract(ctx context.Context, narrative string, cands delta.Candidates) ([]byte, error) {
	prompt, err := extractPrompt(narrative, cands)
	if err != nil {
		return nil, err
	}
	return e.gen.StructuredComplete(ctx, prompt, DeltaResponseSchema())
}

// SummarizeHistory folds all but the most recent entries into the summary
// once the history outgrows the window. h is not modified.
func (e *Engine) SummarizeHistory(ctx context.Context, h models.History) (models.History, error) {
	if len(h.Entries) <= e.historyWindow {
		return h, nil
	}
	cut := len(h.Entries) - min(keepAfterSummary, e.historyWindow)

	prompt, err := render(summarizeHistoryTmpl, struct {
		CurrentSummary string
		Entries        []models.HistoryEntry
	}{
		CurrentSummary: h.Summary,
		Entries:        h.Entries[:cut],
	})
	if err != nil {
		return h, err
	}
	text, err := e.gen.Complete(ctx, prompt, nil)
	if err != nil {
		return h, oops.In("engine").Wrapf(err, "summarize history")
	}
	return models.History{
		Summary: strings.TrimSpace(text),
		Entries: slices.Clone(h.Entries[cut:]),
	}, nil
}

// Open loads a slot, migrating it to the current schema. A document that
// needed upgrading or repair is written back before play starts, leaving the
// original as the slot's last good snapshot.
func (e *Engine) Open(ctx context.Context, slot string) (*Session, migrate.Report, error) {
	raw, err := e.store.Load(ctx, slot)
	if err != nil {
		return nil, migrate.Report{}, err
	}
	s, report, err := e.migrator.Migrate(raw)
	if err != nil {
		return nil, report, err
	}
	if report.Changed() {
		if err := e.save(ctx, slot, s); err != nil {
			return nil, report, err
		}
		e.logger.Info("migrated slot", "slot", slot, "from", report.FromVersion, "to", report.ToVersion, "repairs", len(report.Repairs))
	}
	return e.NewSession(slot, s), report, nil
}

// Create generates a world from hint and saves it to slot.
func (e *Engine) Create(ctx context.Context, slot, hint string) (*Session, error) {
	if err := store.ValidSlot(slot); err != nil {
		return nil, err
	}
	s, err := e.GenerateWorld(ctx, hint)
	if err != nil {
		return nil, err
	}
	if err := e.save(ctx, slot, s); err != nil {
		return nil, err
	}
	return e.NewSession(slot, s), nil
}

// NewSession wraps an already migrated state. Turns are saved to slot.
func (e *Engine) NewSession(slot string, s models.WorldState) *Session {
	return &Session{eng: e, slot: slot, state: s.Clone()}
}

func (e *Engine) save(ctx context.Context, slot string, s models.WorldState) error {
	doc, err := models.ToRaw(s)
	if err != nil {
		return oops.In("engine").Wrapf(err, "encode slot %s", slot)
	}
	return e.store.Save(ctx, slot, doc)
}

// Session is one open slot. Its methods are safe for concurrent use.
type Session struct {
	eng  *Engine
	slot string

	mu     sync.Mutex
	state  models.WorldState
	seq    uint64
	cancel context.CancelFunc
}

func (s *Session) Slot() string { return s.slot }

// State returns the latest committed snapshot.
func (s *Session) State() models.WorldState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// ProcessTurn runs one player action. Narration is streamed through onChunk
// as it arrives. Starting a new turn cancels the one in flight, which then
// returns ErrTurnSuperseded without touching the state.
func (s *Session) ProcessTurn(ctx context.Context, action string, onChunk func(string)) (TurnOutcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	seq := s.seq
	s.cancel = cancel
	snapshot := s.state
	s.mu.Unlock()

	e := s.eng
	base := snapshot
	if len(base.History.Entries) > e.historyWindow {
		h, err := e.SummarizeHistory(ctx, base.History)
		if err != nil {
			if s.superseded(ctx, seq) {
				return TurnOutcome{}, ErrTurnSuperseded
			}
			e.logger.Warn("failed to summarize history", "slot", s.slot, "err", err)
		}
		base.History = h
	}

	prompt, err := narratePrompt(base, action, e.historyWindow)
	if err != nil {
		return TurnOutcome{}, err
	}
	narrative, err := e.gen.Complete(ctx, prompt, onChunk)
	if s.superseded(ctx, seq) {
		return TurnOutcome{}, ErrTurnSuperseded
	}
	if err != nil {
		return TurnOutcome{}, oops.In("engine").Wrapf(err, "narrate turn")
	}

	out, err := e.ApplyTurn(ctx, base, narrative)
	if err != nil || s.superseded(ctx, seq) {
		return TurnOutcome{}, ErrTurnSuperseded
	}
	out.Action = action
	out.Before = snapshot

	next := out.State
	next.History.Entries = append(slices.Clone(next.History.Entries), models.HistoryEntry{
		Turn:         next.Clock.Turn,
		PlayerAction: action,
		Narrative:    narrative,
		Applied:      out.AppliedDescriptions(),
		Rejected:     out.RejectedReasons(),
	})
	next.Normalize()
	out.State = next

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq || ctx.Err() != nil {
		return TurnOutcome{}, ErrTurnSuperseded
	}
	if err := e.save(ctx, s.slot, next); err != nil {
		return TurnOutcome{}, err
	}
	s.state = next
	s.cancel = nil

	e.logger.Info("turn processed",
		"slot", s.slot,
		"turn", next.Clock.Turn,
		"applied", len(out.Applied),
		"rejected", len(out.Discarded)+len(out.Rejected),
		"extraction_failed", out.ExtractionErr != nil,
	)
	return out, nil
}

func (s *Session) superseded(ctx context.Context, seq uint64) bool {
	if ctx.Err() != nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return seq != s.seq
}
