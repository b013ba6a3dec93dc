package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/chronicle/internal/delta"
	"github.com/tatianab/chronicle/internal/migrate"
	"github.com/tatianab/chronicle/internal/models"
	"github.com/tatianab/chronicle/internal/reducer"
	"github.com/tatianab/chronicle/internal/store"
)

// fakeGen scripts both generator calls and records every prompt.
type fakeGen struct {
	complete   func(ctx context.Context, prompt string, onChunk func(string)) (string, error)
	structured func(ctx context.Context, prompt string) ([]byte, error)

	mu      sync.Mutex
	prompts []string
}

func (f *fakeGen) record(prompt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
}

func (f *fakeGen) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

func (f *fakeGen) Complete(ctx context.Context, prompt string, onChunk func(string)) (string, error) {
	f.record(prompt)
	return f.complete(ctx, prompt, onChunk)
}

func (f *fakeGen) StructuredComplete(ctx context.Context, prompt string, _ *genai.Schema) ([]byte, error) {
	f.record(prompt)
	if f.structured == nil {
		return []byte(`{"deltas": []}`), nil
	}
	return f.structured(ctx, prompt)
}

func narrate(text string) func(context.Context, string, func(string)) (string, error) {
	return func(_ context.Context, _ string, onChunk func(string)) (string, error) {
		if onChunk != nil {
			onChunk(text)
		}
		return text, nil
	}
}

func respond(body string) func(context.Context, string) ([]byte, error) {
	return func(context.Context, string) ([]byte, error) { return []byte(body), nil }
}

func newEngine(t *testing.T, gen Generator) (*Engine, *store.MemoryStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	red := reducer.New(logger)
	n := 0
	red.NewID = func(prefix string) string {
		n++
		return fmt.Sprintf("%s-%d", prefix, n)
	}
	st := store.NewMemoryStore()
	return New(Options{Store: st, Generator: gen, Reducer: red, Logger: logger}), st
}

func intPtr(v int) *int { return &v }

func fixture() models.WorldState {
	s := models.WorldState{
		SchemaVersion: models.CurrentSchemaVersion,
		World:         models.World{Title: "Ashfall", Description: "A mining town under grey skies."},
		Player: models.Character{
			ID:   models.PlayerID,
			Name: "Wren",
			Attributes: map[string]models.Attribute{
				"hunger": {Value: 20, Max: intPtr(100)},
				"health": {Value: 50, Max: intPtr(100)},
			},
		},
		NPCs:              []models.Character{{ID: "smith", Name: "Bram the Blacksmith", LocationID: "forge"}},
		Locations:         []models.Location{{ID: "forge", Name: "Forge", Description: "Hot and loud.", Objects: []string{"iron ingot"}}},
		CurrentLocationID: "forge",
		Clock:             models.Clock{Year: 1},
	}
	s.Normalize()
	return s
}

const blacksmithNarrative = "Bram greets you and hands you a bowl of stew. While you eat he speaks of a legendary sword."

const blacksmithDeltas = `{"deltas": [
	{"kind": "stat_changed", "modality": "present", "attribute": "hunger", "amount": 30, "evidence": "While you eat"},
	{"kind": "item_gained", "modality": "hearsay", "name": "Legendary Sword", "evidence": "he speaks of a legendary sword"},
	{"kind": "npc_first_encountered", "modality": "present", "npc": "Bram the Blacksmith", "evidence": "Bram greets you"}
]}`

func TestProcessTurnAppliesExtractedDeltas(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGen{complete: narrate(blacksmithNarrative), structured: respond(blacksmithDeltas)}
	eng, st := newEngine(t, gen)
	sess := eng.NewSession("main", fixture())

	var streamed strings.Builder
	out, err := sess.ProcessTurn(ctx, "talk to the smith", func(chunk string) { streamed.WriteString(chunk) })
	require.NoError(t, err)
	assert.Equal(t, blacksmithNarrative, streamed.String())

	assert.Equal(t, []string{"met Bram the Blacksmith", "hunger +30"}, out.AppliedDescriptions())
	require.Len(t, out.Discarded, 1)
	assert.Equal(t, "item_gained", out.Discarded[0].Kind)
	assert.Empty(t, out.Rejected)
	assert.NoError(t, out.ExtractionErr)
	assert.NotEmpty(t, out.Changes())
	assert.Equal(t, 20, out.Before.Player.Attributes["hunger"].Value)

	state := sess.State()
	assert.Equal(t, 50, state.Player.Attributes["hunger"].Value)
	assert.Equal(t, []string{"smith"}, state.EncounteredNPCIDs)
	assert.Empty(t, state.Inventory)
	assert.Equal(t, 1, state.Clock.Turn)
	require.Len(t, state.History.Entries, 1)
	entry := state.History.Entries[0]
	assert.Equal(t, 1, entry.Turn)
	assert.Equal(t, "talk to the smith", entry.PlayerAction)
	assert.Equal(t, blacksmithNarrative, entry.Narrative)
	assert.Equal(t, []string{"met Bram the Blacksmith", "hunger +30"}, entry.Applied)
	require.Len(t, entry.Rejected, 1)
	assert.Contains(t, entry.Rejected[0], "hearsay")

	prompts := gen.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "Player action: talk to the smith")
	assert.Contains(t, prompts[0], "People here: Bram the Blacksmith")
	assert.Contains(t, prompts[1], blacksmithNarrative)
	assert.Contains(t, prompts[1], "People the player has not met yet: Bram the Blacksmith")

	raw, err := st.Load(ctx, "main")
	require.NoError(t, err)
	saved, _, err := migrate.Migrate(raw)
	require.NoError(t, err)
	assert.Equal(t, 50, saved.Player.Attributes["hunger"].Value)
	assert.Equal(t, 1, saved.Clock.Turn)
}

func TestProcessTurnSurvivesExtractionFailure(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGen{
		complete: narrate("The forge roars."),
		structured: func(context.Context, string) ([]byte, error) {
			return nil, errors.New("quota exceeded")
		},
	}
	eng, _ := newEngine(t, gen)
	sess := eng.NewSession("main", fixture())

	out, err := sess.ProcessTurn(ctx, "listen", nil)
	require.NoError(t, err)
	require.Error(t, out.ExtractionErr)
	assert.ErrorIs(t, out.ExtractionErr, ErrExtractionService)
	assert.Equal(t, CodeExtractionService, CodeOf(out.ExtractionErr))
	assert.Empty(t, out.Applied)

	state := sess.State()
	assert.Equal(t, 1, state.Clock.Turn)
	require.Len(t, state.History.Entries, 1)
	assert.Equal(t, "The forge roars.", state.History.Entries[0].Narrative)
	require.Len(t, state.History.Entries[0].Rejected, 1)
	assert.Contains(t, state.History.Entries[0].Rejected[0], "quota exceeded")
}

func TestProcessTurnFailsWhenNarrationFails(t *testing.T) {
	gen := &fakeGen{complete: func(context.Context, string, func(string)) (string, error) {
		return "", errors.New("service unavailable")
	}}
	eng, st := newEngine(t, gen)
	sess := eng.NewSession("main", fixture())

	_, err := sess.ProcessTurn(context.Background(), "look", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "service unavailable")
	assert.Equal(t, 0, sess.State().Clock.Turn)
	_, err = st.Load(context.Background(), "main")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNewerTurnSupersedesOlder(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	gen := &fakeGen{complete: func(ctx context.Context, prompt string, _ func(string)) (string, error) {
		if strings.Contains(prompt, "Player action: wait") {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		}
		return "You step into the street.", nil
	}}
	eng, _ := newEngine(t, gen)
	sess := eng.NewSession("main", fixture())

	errc := make(chan error, 1)
	go func() {
		_, err := sess.ProcessTurn(ctx, "wait", nil)
		errc <- err
	}()
	<-started

	_, err := sess.ProcessTurn(ctx, "step outside", nil)
	require.NoError(t, err)
	err = <-errc
	assert.ErrorIs(t, err, ErrTurnSuperseded)
	assert.Equal(t, CodeTurnSuperseded, CodeOf(err))

	state := sess.State()
	assert.Equal(t, 1, state.Clock.Turn)
	require.Len(t, state.History.Entries, 1)
	assert.Equal(t, "step outside", state.History.Entries[0].PlayerAction)
}

func TestCancelledTurnLeavesStateUntouched(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := &fakeGen{complete: func(context.Context, string, func(string)) (string, error) {
		cancel()
		return "Too late.", nil
	}}
	eng, st := newEngine(t, gen)
	sess := eng.NewSession("main", fixture())

	_, err := sess.ProcessTurn(ctx, "run", nil)
	assert.ErrorIs(t, err, ErrTurnSuperseded)
	assert.Equal(t, fixture(), sess.State())
	_, err = st.Load(context.Background(), "main")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessTurnSummarizesLongHistory(t *testing.T) {
	gen := &fakeGen{complete: func(_ context.Context, prompt string, _ func(string)) (string, error) {
		if strings.HasPrefix(prompt, "You keep the running summary") {
			return "  Wren has been busy.  ", nil
		}
		return "Nothing happens.", nil
	}}
	eng, _ := newEngine(t, gen)
	s := fixture()
	for i := 1; i <= 9; i++ {
		s.History.Entries = append(s.History.Entries, models.HistoryEntry{
			Turn: i, PlayerAction: fmt.Sprintf("action %d", i), Narrative: fmt.Sprintf("outcome %d", i),
		})
	}
	s.Normalize()
	sess := eng.NewSession("main", s)

	_, err := sess.ProcessTurn(context.Background(), "rest", nil)
	require.NoError(t, err)

	h := sess.State().History
	assert.Equal(t, "Wren has been busy.", h.Summary)
	require.Len(t, h.Entries, 4)
	assert.Equal(t, "action 7", h.Entries[0].PlayerAction)
	assert.Equal(t, "rest", h.Entries[3].PlayerAction)

	prompts := gen.Prompts()
	require.Len(t, prompts, 3)
	assert.Contains(t, prompts[0], "Action: action 6")
	assert.NotContains(t, prompts[0], "Action: action 7")
	assert.Contains(t, prompts[1], "Summary of previous events: Wren has been busy.")
}

func TestProcessTurnKeepsHistoryWhenSummaryFails(t *testing.T) {
	gen := &fakeGen{complete: func(_ context.Context, prompt string, _ func(string)) (string, error) {
		if strings.HasPrefix(prompt, "You keep the running summary") {
			return "", errors.New("boom")
		}
		return "Nothing happens.", nil
	}}
	eng, _ := newEngine(t, gen)
	s := fixture()
	for i := 1; i <= 9; i++ {
		s.History.Entries = append(s.History.Entries, models.HistoryEntry{Turn: i, PlayerAction: "wait"})
	}
	s.Normalize()
	sess := eng.NewSession("main", s)

	_, err := sess.ProcessTurn(context.Background(), "rest", nil)
	require.NoError(t, err)
	assert.Len(t, sess.State().History.Entries, 10)
	assert.Empty(t, sess.State().History.Summary)
}

func TestApplyTurnSkipsExtractionForBlankNarrative(t *testing.T) {
	calls := 0
	gen := &fakeGen{structured: func(context.Context, string) ([]byte, error) {
		calls++
		return []byte(`{"deltas": []}`), nil
	}}
	eng, _ := newEngine(t, gen)

	out, err := eng.ApplyTurn(context.Background(), fixture(), "  ")
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Empty(t, out.Applied)
	assert.Equal(t, 1, out.State.Clock.Turn)
}

func TestApplyTurnIsPure(t *testing.T) {
	gen := &fakeGen{structured: respond(blacksmithDeltas)}
	eng, st := newEngine(t, gen)
	before := fixture()

	out, err := eng.ApplyTurn(context.Background(), before, blacksmithNarrative)
	require.NoError(t, err)
	assert.Equal(t, fixture(), before)
	assert.Equal(t, 50, out.State.Player.Attributes["hunger"].Value)
	assert.Empty(t, out.State.History.Entries, "ApplyTurn does not write history")

	slots, err := st.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func legacyDocument() models.RawDocument {
	return models.RawDocument{
		"world": map[string]any{"title": "The Hidden Manor", "description": "A dark forest"},
		"state": map[string]any{
			"current_location": "Gate",
			"inventory":        []any{"rope"},
			"stats":            map[string]any{"courage": "3"},
			"health":           "90",
			"progress":         "10%",
		},
		"history": map[string]any{"summary": "", "entries": []any{}},
	}
}

func TestOpenMigratesAndPersists(t *testing.T) {
	ctx := context.Background()
	eng, st := newEngine(t, &fakeGen{})
	require.NoError(t, st.Save(ctx, "manor", legacyDocument()))

	sess, report, err := eng.Open(ctx, "manor")
	require.NoError(t, err)
	assert.Equal(t, 1, report.FromVersion)
	assert.Equal(t, models.CurrentSchemaVersion, report.ToVersion)
	assert.True(t, report.Changed())
	assert.Equal(t, "manor", sess.Slot())
	assert.Equal(t, 3, sess.State().Player.Attributes["courage"].Value)

	doc, err := st.Load(ctx, "manor")
	require.NoError(t, err)
	assert.EqualValues(t, models.CurrentSchemaVersion, doc["schema_version"])
	prev, err := st.LoadLastGood(ctx, "manor")
	require.NoError(t, err)
	assert.Equal(t, legacyDocument(), prev)

	again, report, err := eng.Open(ctx, "manor")
	require.NoError(t, err)
	assert.False(t, report.Changed())
	assert.Equal(t, sess.State(), again.State())
}

func TestOpenRejectsUnsupportedVersion(t *testing.T) {
	ctx := context.Background()
	eng, st := newEngine(t, &fakeGen{})
	require.NoError(t, st.Save(ctx, "future", models.RawDocument{
		"schema_version": 99,
		"player":         map[string]any{"id": "player", "name": "Wren"},
	}))

	_, _, err := eng.Open(ctx, "future")
	require.Error(t, err)
	assert.Equal(t, CodeUnsupportedVersion, CodeOf(err))
	_, err = st.LoadLastGood(ctx, "future")
	assert.ErrorIs(t, err, store.ErrNotFound, "a rejected document is never rewritten")

	_, _, err = eng.Open(ctx, "missing")
	assert.Equal(t, CodeNotFound, CodeOf(err))
}

const generatedYAML = "```yaml\n" + `world:
  title: The Drowned Bell
  short_name: drowned-bell
  description: A village half sunk in the swamp.
  win_conditions: Ring the bell.
  lose_conditions: Drown.
player:
  name: Wren
  title: the ferry-hand
  currency: 5
  attributes:
    health: {value: 80, max: 100}
    Hunger: {value: 10, max: 100}
npcs:
  - name: Old Mara
    title: ferrywoman
    location: Jetty
locations:
  - name: Jetty
    description: Rotten planks over black water.
    objects: [rope]
  - name: Bell Tower
    description: Sunk to its waist.
start_location: jetty
quest:
  title: Ring the Bell
  description: Wake the village.
  objectives:
    - description: Reach the tower
      target: Bell Tower
  reward:
    currency: 20
    items: [Bell Rope]
` + "```"

func TestCreateGeneratesWorld(t *testing.T) {
	ctx := context.Background()
	gen := &fakeGen{complete: func(_ context.Context, prompt string, onChunk func(string)) (string, error) {
		assert.Contains(t, prompt, "Player hint: swamp")
		assert.Nil(t, onChunk)
		return generatedYAML, nil
	}}
	eng, st := newEngine(t, gen)

	sess, err := eng.Create(ctx, "bell", "swamp")
	require.NoError(t, err)
	s := sess.State()

	assert.Equal(t, "The Drowned Bell", s.World.Title)
	assert.Equal(t, "Wren", s.Player.Name)
	assert.Equal(t, 5, s.Player.Currency)
	assert.Equal(t, 10, s.Player.Attributes["hunger"].Value)
	require.Len(t, s.Locations, 2)
	require.Len(t, s.NPCs, 1)

	jetty, tower := s.Locations[0], s.Locations[1]
	assert.Equal(t, "Jetty", jetty.Name)
	assert.Equal(t, jetty.ID, s.CurrentLocationID)
	assert.Equal(t, jetty.ID, s.NPCs[0].LocationID)

	require.Len(t, s.Quests, 1)
	q := s.Quests[0]
	assert.Equal(t, models.QuestActive, q.Status)
	require.Len(t, q.Objectives, 1)
	assert.Equal(t, tower.ID, q.Objectives[0].TargetID)
	assert.Equal(t, 1, q.Objectives[0].Required)
	assert.Equal(t, 20, q.Reward.Currency)

	_, err = st.Load(ctx, "bell")
	require.NoError(t, err)

	_, err = eng.Create(ctx, "../bad", "swamp")
	assert.ErrorIs(t, err, store.ErrInvalidSlot)
}

func TestGenerateWorldRejectsGarbage(t *testing.T) {
	gen := &fakeGen{complete: narrate("world: [unclosed")}
	eng, _ := newEngine(t, gen)
	_, err := eng.GenerateWorld(context.Background(), "")
	assert.Error(t, err)
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, ""},
		{&migrate.UnsupportedVersionError{Declared: 99, Current: 4}, CodeUnsupportedVersion},
		{&migrate.CorruptedError{Reason: "player block is missing"}, CodeCorrupted},
		{delta.Reject(delta.KindItemGained, "unknown"), CodeDeltaRejected},
		{fmt.Errorf("%w: %w", ErrExtractionService, io.EOF), CodeExtractionService},
		{ErrTurnSuperseded, CodeTurnSuperseded},
		{fmt.Errorf("load: %w", store.ErrNotFound), CodeNotFound},
		{store.ValidSlot(""), CodeInvalidSlot},
		{errors.New("disk on fire"), CodeUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CodeOf(tt.err), "%v", tt.err)
	}
}

func TestTrimFence(t *testing.T) {
	assert.Equal(t, "a: 1", trimFence("```yaml\na: 1\n```"))
	assert.Equal(t, "a: 1", trimFence("  a: 1  "))
	assert.Equal(t, `{"deltas": []}`, trimFence("```json\n{\"deltas\": []}\n```\n"))
}

func TestDeltaResponseSchemaCoversEveryKind(t *testing.T) {
	schema := DeltaResponseSchema()
	item := schema.Properties["deltas"].Items
	require.NotNil(t, item)
	var kinds []string
	for _, k := range delta.Kinds() {
		kinds = append(kinds, k.String())
	}
	assert.ElementsMatch(t, kinds, item.Properties["kind"].Enum)
	assert.Contains(t, item.Required, "modality")
}
