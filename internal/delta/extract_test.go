package delta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tatianab/chronicle/internal/models"
)

func intPtr(v int) *int { return &v }

func testState() models.WorldState {
	s := models.WorldState{
		SchemaVersion: models.CurrentSchemaVersion,
		Player: models.Character{
			ID:   models.PlayerID,
			Name: "Wren",
			Attributes: map[string]models.Attribute{
				"hunger":   {Value: 20, Max: intPtr(100)},
				"health":   {Value: 50, Max: intPtr(100)},
				"strength": {Value: 10},
			},
		},
		NPCs: []models.Character{
			{ID: "smith", Name: "Bram the Blacksmith", LocationID: "forge", Attributes: map[string]models.Attribute{"mood": {Value: 5}}},
			{ID: "oracle", Name: "Ysa", LocationID: "tower"},
		},
		Locations: []models.Location{
			{ID: "forge", Name: "Forge", Objects: []string{"iron ingot", "Hammer"}},
			{ID: "tower", Name: "Tower"},
		},
		CurrentLocationID: "forge",
		Inventory: []models.ItemStack{
			{ID: "item-1", Name: "Bun", Quantity: 2, Category: "food"},
		},
		Techniques: []models.Technique{{ID: "tech-parry", Name: "Parry"}},
		Quests: []models.Quest{
			{ID: "q1", Title: "Open the vault", Status: models.QuestActive, Reward: models.Reward{Items: []string{"Silver Key"}}},
		},
		EncounteredNPCIDs: []string{"smith"},
		Clock:             models.Clock{Year: 1},
	}
	s.Normalize()
	return s
}

func extract(t *testing.T, s models.WorldState, raw string) Result {
	t.Helper()
	return Extract(s, CandidatesFor(s), []byte(raw), DefaultLimits())
}

func TestCandidatesFor(t *testing.T) {
	c := CandidatesFor(testState())
	assert.Equal(t, []string{"Bun", "iron ingot", "Hammer", "Silver Key"}, c.Items)
	assert.Equal(t, []string{"Parry"}, c.Techniques)
	assert.Equal(t, []Ref{{ID: "oracle", Name: "Ysa"}}, c.UnmetNPCs)

	name, ok := c.Item("the hammer")
	assert.True(t, ok)
	assert.Equal(t, "Hammer", name)

	tgt, ok := c.Target("bram the blacksmith")
	require.True(t, ok)
	assert.Equal(t, "smith", tgt.ID)
	tgt, ok = c.Target("")
	require.True(t, ok)
	assert.Equal(t, models.PlayerID, tgt.ID)

	attr, ok := tgt.Attribute("Hunger")
	assert.True(t, ok)
	assert.Equal(t, "hunger", attr)

	id, ok := c.Place("Tower")
	assert.True(t, ok)
	assert.Equal(t, "tower", id)
}

func TestExtractBlacksmithMentionsLegendarySword(t *testing.T) {
	// "He eats the bun, hunger +30, and the blacksmith mentioned a legendary
	// sword his father once owned."
	for _, modality := range []string{"hearsay", "present"} {
		t.Run(modality, func(t *testing.T) {
			res := extract(t, testState(), `{"deltas": [
				{"kind": "stat_changed", "modality": "present", "attribute": "hunger", "amount": 30, "evidence": "He eats the bun, hunger +30"},
				{"kind": "item_gained", "modality": "`+modality+`", "name": "Legendary Sword", "evidence": "mentioned a legendary sword"}
			]}`)

			assert.Equal(t, []Delta{StatChanged{TargetID: models.PlayerID, Attribute: "hunger", Amount: 30}}, res.Accepted)
			require.Len(t, res.Rejected, 1)
			assert.Equal(t, 1, res.Rejected[0].Index)
			assert.Equal(t, "item_gained", res.Rejected[0].Kind)
			assert.Equal(t, "mentioned a legendary sword", res.Rejected[0].Evidence)
		})
	}
}

func TestExtractDropsUnknownItemAndKeepsTheRest(t *testing.T) {
	res := extract(t, testState(), `{"deltas": [
		{"kind": "item_gained", "modality": "present", "name": "Dragon Egg"},
		{"kind": "item_gained", "modality": "present", "name": "hammer", "category": "tool", "slot": "hand"},
		{"kind": "item_gained", "modality": "present", "name": "bun", "quantity": 3, "category": "weapon"},
		{"kind": "npc_first_encountered", "modality": "present", "npc": "Ysa"}
	]}`)

	assert.Equal(t, []Delta{
		ItemGained{Name: "Hammer", Quantity: 1, Category: "tool", Slot: "hand", Bonuses: map[string]int{}},
		ItemGained{Name: "Bun", Quantity: 3, Category: "food", Bonuses: map[string]int{}},
		NpcFirstEncountered{NPCID: "oracle", Name: "Ysa"},
	}, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 0, res.Rejected[0].Index)
	assert.Contains(t, res.Rejected[0].Reason, "Dragon Egg")
}

func TestExtractAcceptsEveryKind(t *testing.T) {
	res := extract(t, testState(), `{"deltas": [
		{"kind": "technique_learned", "modality": "present", "name": "Riposte", "description": "A counter", "cooldown": 2},
		{"kind": "effect_applied", "modality": "present", "name": "Forge heat", "bonuses": [{"attribute": "Strength", "amount": 5}, {"attribute": "strength", "amount": 1}], "duration": 3},
		{"kind": "effect_applied", "modality": "present", "name": "Calm", "target": "smith", "bonuses": [{"attribute": "mood", "amount": 2}], "duration": -1},
		{"kind": "quest_started", "modality": "present", "name": "Forge a blade", "objectives": [{"description": "Bring ore", "target": "Bram the Blacksmith", "required": 3}, {"description": "Wait"}], "reward_currency": 20, "reward_items": ["Blade", " "]},
		{"kind": "time_advanced", "modality": "present", "years": 1, "days": 5},
		{"kind": "stat_changed", "modality": "present", "target": "Bram the Blacksmith", "attribute": "mood", "amount": -2}
	]}`)
	require.Empty(t, res.Rejected)
	assert.Equal(t, []Delta{
		TechniqueLearned{Name: "Riposte", Description: "A counter", Cooldown: 2},
		EffectApplied{Name: "Forge heat", TargetID: models.PlayerID, Bonuses: map[string]int{"strength": 6}, Duration: 3},
		EffectApplied{Name: "Calm", TargetID: "smith", Bonuses: map[string]int{"mood": 2}, Duration: models.PermanentDuration},
		QuestStarted{
			Title: "Forge a blade",
			Objectives: []models.Objective{
				{Description: "Bring ore", TargetID: "smith", Required: 3},
				{Description: "Wait", Required: 1},
			},
			Reward: models.Reward{Currency: 20, Items: []string{"Blade"}},
		},
		TimeAdvanced{Years: 1, Days: 5},
		StatChanged{TargetID: "smith", Attribute: "mood", Amount: -2},
	}, res.Accepted)
	assert.Equal(t, 125, res.Accepted[4].(TimeAdvanced).TotalDays())
}

func TestExtractRejections(t *testing.T) {
	tests := []struct {
		name   string
		delta  string
		reason string
	}{
		{"unknown attribute", `{"kind": "stat_changed", "modality": "present", "attribute": "charisma", "amount": 3}`, `no attribute "charisma"`},
		{"impossible magnitude", `{"kind": "stat_changed", "modality": "present", "attribute": "health", "amount": 100000}`, "outside"},
		{"zero change", `{"kind": "stat_changed", "modality": "present", "attribute": "health", "amount": 0}`, "zero"},
		{"unknown target", `{"kind": "stat_changed", "modality": "present", "target": "Ghost", "attribute": "health", "amount": 1}`, `target "Ghost"`},
		{"fabricated npc", `{"kind": "npc_first_encountered", "modality": "present", "npc": "Stranger"}`, "not in the world roster"},
		{"already met npc", `{"kind": "npc_first_encountered", "modality": "present", "npc": "smith"}`, "already been encountered"},
		{"known technique", `{"kind": "technique_learned", "modality": "present", "name": "parry"}`, "already known"},
		{"small time passage", `{"kind": "time_advanced", "modality": "present", "days": 0}`, "threshold"},
		{"huge time passage", `{"kind": "time_advanced", "modality": "present", "years": 500}`, "longer than"},
		{"zero duration", `{"kind": "effect_applied", "modality": "present", "name": "Blink", "bonuses": [{"attribute": "health", "amount": 1}], "duration": 0}`, "duration"},
		{"effect on unknown attribute", `{"kind": "effect_applied", "modality": "present", "name": "Luck", "bonuses": [{"attribute": "luck", "amount": 1}], "duration": 2}`, `no attribute "luck"`},
		{"objective with unknown target", `{"kind": "quest_started", "modality": "present", "name": "Hunt", "objectives": [{"description": "Slay", "target": "Dragon"}]}`, `unknown "Dragon"`},
		{"missing required field", `{"kind": "item_gained", "modality": "present"}`, "schema"},
		{"fractional amount", `{"kind": "stat_changed", "modality": "present", "attribute": "health", "amount": 2.5}`, "schema"},
		{"unknown kind", `{"kind": "item_lost", "modality": "present", "name": "Bun"}`, "schema"},
		{"missing modality", `{"kind": "stat_changed", "attribute": "health", "amount": 1}`, "schema"},
		{"dream", `{"kind": "stat_changed", "modality": "dream", "attribute": "health", "amount": 1}`, "dream"},
		{"not an object", `"gain a sword"`, "not an object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := extract(t, testState(), `{"deltas": [`+tt.delta+`]}`)
			assert.Empty(t, res.Accepted)
			require.Len(t, res.Rejected, 1)
			assert.Contains(t, res.Rejected[0].Reason, tt.reason)
		})
	}
}

func TestExtractResponseShapes(t *testing.T) {
	stat := `{"kind": "stat_changed", "modality": "present", "attribute": "hunger", "amount": 5, "name": null}`
	want := []Delta{StatChanged{TargetID: models.PlayerID, Attribute: "hunger", Amount: 5}}

	res := extract(t, testState(), "```json\n{\"deltas\": ["+stat+"]}\n```")
	assert.Equal(t, want, res.Accepted)

	res = extract(t, testState(), "["+stat+"]")
	assert.Equal(t, want, res.Accepted)

	res = extract(t, testState(), `{"deltas": []}`)
	assert.Empty(t, res.Accepted)
	assert.Empty(t, res.Rejected)

	res = extract(t, testState(), "")
	assert.Empty(t, res.Accepted)
	assert.Empty(t, res.Rejected)

	res = extract(t, testState(), "The bun was delicious.")
	assert.Empty(t, res.Accepted)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, -1, res.Rejected[0].Index)

	res = extract(t, testState(), `{"deltas": "none"}`)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, -1, res.Rejected[0].Index)
}

func TestExtractCapsDeltasPerTurn(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxDeltasPerTurn = 1
	s := testState()
	res := Extract(s, CandidatesFor(s), []byte(`{"deltas": [
		{"kind": "stat_changed", "modality": "present", "attribute": "hunger", "amount": 1},
		{"kind": "stat_changed", "modality": "present", "attribute": "hunger", "amount": 2}
	]}`), limits)
	assert.Len(t, res.Accepted, 1)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 1, res.Rejected[0].Index)
}

func TestSortUsesApplicationOrder(t *testing.T) {
	ds := []Delta{
		TimeAdvanced{Days: 3},
		StatChanged{Attribute: "a"},
		ItemGained{Name: "x"},
		StatChanged{Attribute: "b"},
		NpcFirstEncountered{NPCID: "n"},
	}
	Sort(ds)
	assert.Equal(t, []Delta{
		ItemGained{Name: "x"},
		NpcFirstEncountered{NPCID: "n"},
		StatChanged{Attribute: "a"},
		StatChanged{Attribute: "b"},
		TimeAdvanced{Days: 3},
	}, ds)

	for i, k := range Kinds() {
		parsed, ok := ParseKind(k.String())
		assert.True(t, ok)
		assert.Equal(t, Kind(i), parsed)
	}
}

func TestRejectedError(t *testing.T) {
	err := Reject(KindTechniqueLearned, "technique %q is already known", "Parry")
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, `technique_learned rejected: technique "Parry" is already known`, err.Error())
}

func TestLoadLimits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_stat_delta: 40\nmin_time_advance_days: 7\n"), 0o644))

	l, err := LoadLimits(path)
	require.NoError(t, err)
	assert.Equal(t, 40, l.MaxStatDelta)
	assert.Equal(t, 7, l.MinTimeAdvanceDays)
	assert.Equal(t, DefaultLimits().MaxItemQuantity, l.MaxItemQuantity)

	require.NoError(t, os.WriteFile(path, []byte("max_deltas_per_turn: 0\n"), 0o644))
	_, err = LoadLimits(path)
	assert.Error(t, err)
}
