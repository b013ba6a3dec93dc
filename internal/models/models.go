package models

// CurrentSchemaVersion is the document shape this build reads and writes.
const CurrentSchemaVersion = 4

// PlayerID is the id given to the player character when a document has none.
const PlayerID = "player"

// World represents the static (or semi-static) world definition.
type World struct {
	Title          string   `json:"title" yaml:"title"`
	ShortName      string   `json:"short_name" yaml:"short_name"` // e.g., "hidden-manor"
	Description    string   `json:"description" yaml:"description"`
	Possibilities  []string `json:"possibilities" yaml:"possibilities"`
	WinConditions  string   `json:"win_conditions" yaml:"win_conditions"`
	LoseConditions string   `json:"lose_conditions" yaml:"lose_conditions"`
}

// Attribute is a named numeric stat. Value is moved by stat changes and
// clamped into [0, Max]; Bonus is the sum of active effect bonuses.
type Attribute struct {
	Value int  `json:"value" yaml:"value"`
	Max   *int `json:"max" yaml:"max"`
	Bonus int  `json:"bonus" yaml:"bonus"`
}

// Effective returns the value including effect bonuses, floored at zero.
func (a Attribute) Effective() int {
	v := a.Value + a.Bonus
	if v < 0 {
		return 0
	}
	return v
}

// Character is the player or an NPC.
type Character struct {
	ID         string               `json:"id" yaml:"id"`
	Name       string               `json:"name" yaml:"name"`
	Title      string               `json:"title" yaml:"title"`
	Attributes map[string]Attribute `json:"attributes" yaml:"attributes"`
	Traits     map[string]string    `json:"traits" yaml:"traits"`       // non-numeric legacy stats
	Effects    []string             `json:"effects" yaml:"effects"`     // ids into WorldState.ActiveEffects
	Equipment  map[string]string    `json:"equipment" yaml:"equipment"` // slot -> inventory item id for the player, free text for NPCs
	Currency   int                  `json:"currency" yaml:"currency"`
	LocationID string               `json:"location_id" yaml:"location_id"`
}

// Location represents a specific place in the world.
type Location struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Objects     []string `json:"objects" yaml:"objects"`
}

// ItemStack is a quantity of one item in the player's inventory.
type ItemStack struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name" yaml:"name"`
	Quantity int            `json:"quantity" yaml:"quantity"`
	Category string         `json:"category" yaml:"category"`
	Slot     string         `json:"slot" yaml:"slot"`
	Bonuses  map[string]int `json:"bonuses" yaml:"bonuses"`
	Equipped bool           `json:"equipped" yaml:"equipped"`
}

// Technique is a learned ability. Cooldown is the number of turns it stays
// unavailable after use.
type Technique struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Cooldown    int    `json:"cooldown" yaml:"cooldown"`
}

// PermanentDuration marks an effect that never expires.
const PermanentDuration = -1

// Effect is a timed modifier on a character's attributes. Bonuses is the only
// record of what was added and is what gets subtracted on expiry.
type Effect struct {
	ID        string         `json:"id" yaml:"id"`
	Name      string         `json:"name" yaml:"name"`
	TargetID  string         `json:"target_id" yaml:"target_id"`
	Bonuses   map[string]int `json:"bonuses" yaml:"bonuses"`
	Remaining int            `json:"remaining" yaml:"remaining"`
}

// Permanent reports whether the effect never expires.
func (e Effect) Permanent() bool { return e.Remaining == PermanentDuration }

// QuestStatus is the lifecycle state of a quest.
type QuestStatus string

const (
	QuestActive    QuestStatus = "active"
	QuestCompleted QuestStatus = "completed"
	QuestFailed    QuestStatus = "failed"
)

// Valid reports whether s is a known status.
func (s QuestStatus) Valid() bool {
	switch s {
	case QuestActive, QuestCompleted, QuestFailed:
		return true
	}
	return false
}

// Objective is one step of a quest.
type Objective struct {
	Description string `json:"description" yaml:"description"`
	TargetID    string `json:"target_id" yaml:"target_id"`
	Required    int    `json:"required" yaml:"required"`
	Current     int    `json:"current" yaml:"current"`
	Done        bool   `json:"done" yaml:"done"`
}

// Reward is paid out when a quest completes.
type Reward struct {
	Currency int      `json:"currency" yaml:"currency"`
	Items    []string `json:"items" yaml:"items"`
}

// Quest is a tracked goal. Quests are never deleted.
type Quest struct {
	ID          string      `json:"id" yaml:"id"`
	Title       string      `json:"title" yaml:"title"`
	Description string      `json:"description" yaml:"description"`
	Status      QuestStatus `json:"status" yaml:"status"`
	Objectives  []Objective `json:"objectives" yaml:"objectives"`
	Reward      Reward      `json:"reward" yaml:"reward"`
}

// ObjectivesDone reports whether the quest has objectives and all are done.
func (q Quest) ObjectivesDone() bool {
	if len(q.Objectives) == 0 {
		return false
	}
	for _, o := range q.Objectives {
		if !o.Done {
			return false
		}
	}
	return true
}

// HistoryEntry represents a single turn in the game.
type HistoryEntry struct {
	Turn         int      `json:"turn" yaml:"turn"`
	PlayerAction string   `json:"player_action" yaml:"player_action"`
	Narrative    string   `json:"narrative" yaml:"narrative"`
	Applied      []string `json:"applied" yaml:"applied"`
	Rejected     []string `json:"rejected" yaml:"rejected"`
}

// History contains the abbreviated history of the game.
type History struct {
	Summary string         `json:"summary" yaml:"summary"`
	Entries []HistoryEntry `json:"entries" yaml:"entries"`
}

// WorldState is the whole persisted document.
type WorldState struct {
	SchemaVersion     int            `json:"schema_version" yaml:"schema_version"`
	World             World          `json:"world" yaml:"world"`
	Player            Character      `json:"player" yaml:"player"`
	NPCs              []Character    `json:"npcs" yaml:"npcs"`
	Locations         []Location     `json:"locations" yaml:"locations"`
	CurrentLocationID string         `json:"current_location_id" yaml:"current_location_id"`
	Inventory         []ItemStack    `json:"inventory" yaml:"inventory"`
	Techniques        []Technique    `json:"techniques" yaml:"techniques"`
	ActiveEffects     []Effect       `json:"active_effects" yaml:"active_effects"`
	Quests            []Quest        `json:"quests" yaml:"quests"`
	Cooldowns         map[string]int `json:"cooldowns" yaml:"cooldowns"`
	Clock             Clock          `json:"clock" yaml:"clock"`
	EncounteredNPCIDs []string       `json:"encountered_npc_ids" yaml:"encountered_npc_ids"`
	History           History        `json:"history" yaml:"history"`
}
