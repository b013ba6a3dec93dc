package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func intPtr(v int) *int { return &v }

func sampleState() WorldState {
	s := WorldState{
		SchemaVersion: CurrentSchemaVersion,
		World: World{
			Title:         "The Hidden Manor",
			ShortName:     "hidden-manor",
			Description:   "A dark forest",
			Possibilities: []string{"look", "walk"},
			WinConditions: "Find the key",
		},
		Player: Character{
			ID:   PlayerID,
			Name: "Wren",
			Attributes: map[string]Attribute{
				"health":   {Value: 80, Max: intPtr(100)},
				"strength": {Value: 10, Bonus: 5},
			},
			Effects:   []string{"e1"},
			Equipment: map[string]string{"hand": "i1"},
		},
		NPCs:      []Character{{ID: "smith", Name: "Bram", LocationID: "forge"}},
		Locations: []Location{{ID: "forge", Name: "Forge", Objects: []string{"hammer"}}},
		Inventory: []ItemStack{{ID: "i1", Name: "Dagger", Quantity: 1, Slot: "hand", Equipped: true}},
		ActiveEffects: []Effect{
			{ID: "e1", Name: "Vigor", TargetID: PlayerID, Bonuses: map[string]int{"strength": 5}, Remaining: 3},
		},
		Quests: []Quest{{ID: "q1", Title: "Find the key", Status: QuestActive}},
		Clock:  Clock{Year: 1, Season: 2, Day: 4, Turn: 7},
		History: History{
			Entries: []HistoryEntry{{PlayerAction: "look", Narrative: "You see trees."}},
		},
	}
	s.Normalize()
	return s
}

func TestWorldStateYAML(t *testing.T) {
	s := sampleState()

	data, err := yaml.Marshal(s)
	require.NoError(t, err)

	var got WorldState
	require.NoError(t, yaml.Unmarshal(data, &got))
	got.Normalize()

	assert.Equal(t, s, got)
}

func TestRawRoundTrip(t *testing.T) {
	s := sampleState()

	doc, err := ToRaw(s)
	require.NoError(t, err)
	assert.EqualValues(t, CurrentSchemaVersion, doc["schema_version"])

	got, err := DecodeRaw(doc)
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestRawDocumentCloneIsDeep(t *testing.T) {
	doc := RawDocument{"player": map[string]any{"name": "Wren"}, "list": []any{1, 2}}
	cp := doc.Clone()
	cp["player"].(map[string]any)["name"] = "Other"
	cp["list"].([]any)[0] = 9

	assert.Equal(t, "Wren", doc["player"].(map[string]any)["name"])
	assert.Equal(t, 1, doc["list"].([]any)[0])
}

func TestCloneIsIndependent(t *testing.T) {
	s := sampleState()
	c := s.Clone()

	*c.Player.Attributes["health"].Max = 1
	c.Player.Attributes["health"] = Attribute{Value: 1}
	c.Inventory[0].Quantity = 99
	c.ActiveEffects[0].Bonuses["strength"] = 100
	c.Cooldowns["x"] = 3

	assert.Equal(t, 80, s.Player.Attributes["health"].Value)
	assert.Equal(t, 100, *s.Player.Attributes["health"].Max)
	assert.Equal(t, 1, s.Inventory[0].Quantity)
	assert.Equal(t, 5, s.ActiveEffects[0].Bonuses["strength"])
	assert.NotContains(t, s.Cooldowns, "x")
}

func TestCheck(t *testing.T) {
	s := sampleState()
	require.NoError(t, s.Check())

	bad := s.Clone()
	bad.Inventory = append(bad.Inventory, ItemStack{ID: "i1", Name: "Copy", Quantity: 1})
	assert.ErrorContains(t, bad.Check(), "duplicate item")

	bad = s.Clone()
	bad.Inventory[0].Quantity = 0
	assert.ErrorContains(t, bad.Check(), "quantity")

	bad = s.Clone()
	bad.Player.Attributes["health"] = Attribute{Value: 120, Max: intPtr(100)}
	assert.ErrorContains(t, bad.Check(), "exceeds max")
}

func TestClock(t *testing.T) {
	c := Clock{Year: 1, Season: 3, Day: 29, Turn: 5}
	next := c.AddDays(1)
	assert.Equal(t, Clock{Year: 2, Season: 0, Day: 0, Turn: 5}, next)
	assert.True(t, c.Before(next))
	assert.Equal(t, c, c.AddDays(-10))
	assert.Equal(t, c.TotalDays(), ClockFromDays(c.TotalDays()).TotalDays())
	assert.Equal(t, "Year 2, Spring day 1", next.String())
}

func TestDiff(t *testing.T) {
	before := sampleState()
	after := before.Clone()
	after.Player.Attributes["health"] = Attribute{Value: 90, Max: intPtr(100)}
	after.Inventory = append(after.Inventory, ItemStack{ID: "i2", Name: "Bread", Quantity: 2})
	after.ActiveEffects = nil
	after.EncounteredNPCIDs = append(after.EncounteredNPCIDs, "smith")

	changes := Diff(before, after)
	assert.Contains(t, changes, "health 80 -> 90")
	assert.Contains(t, changes, "gained Bread x2")
	assert.Contains(t, changes, "effect ended: Vigor")
	assert.Contains(t, changes, "met Bram")
}
