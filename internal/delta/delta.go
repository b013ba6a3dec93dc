// Package delta defines the closed set of mechanical state changes a narrative
// turn can produce, and the validation that turns untrusted generator output
// into them.
package delta

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/tatianab/chronicle/internal/models"
)

// Kind identifies a delta variant. Kinds are declared in application order.
type Kind int

const (
	KindItemGained Kind = iota
	KindTechniqueLearned
	KindNpcFirstEncountered
	KindStatChanged
	KindEffectApplied
	KindQuestStarted
	KindTimeAdvanced
)

var kindNames = []string{
	"item_gained",
	"technique_learned",
	"npc_first_encountered",
	"stat_changed",
	"effect_applied",
	"quest_started",
	"time_advanced",
}

// Kinds lists every kind in application order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range out {
		out[i] = Kind(i)
	}
	return out
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind reads a wire name.
func ParseKind(s string) (Kind, bool) {
	i := slices.Index(kindNames, strings.ToLower(strings.TrimSpace(s)))
	return Kind(i), i >= 0
}

// Delta is one validated mechanical change. Deltas are never persisted; only
// their effect on the world state is.
type Delta interface {
	Kind() Kind
	Describe() string
}

// ItemGained adds Quantity of an item to the player's inventory, folding into
// an existing stack with the same name.
type ItemGained struct {
	Name     string
	Quantity int
	Category string
	Slot     string
	Bonuses  map[string]int
}

// TechniqueLearned teaches the player a technique.
type TechniqueLearned struct {
	Name        string
	Description string
	Cooldown    int
}

// NpcFirstEncountered marks a pre-existing NPC as met.
type NpcFirstEncountered struct {
	NPCID string
	Name  string
}

// StatChanged moves an attribute of a character by Amount.
type StatChanged struct {
	TargetID  string
	Attribute string
	Amount    int
}

// EffectApplied starts a timed or permanent effect on a character.
type EffectApplied struct {
	Name     string
	TargetID string
	Bonuses  map[string]int
	Duration int
}

// QuestStarted opens a new quest.
type QuestStarted struct {
	Title       string
	Description string
	Objectives  []models.Objective
	Reward      models.Reward
}

// TimeAdvanced moves the calendar forward.
type TimeAdvanced struct {
	Years   int
	Seasons int
	Days    int
}

func (ItemGained) Kind() Kind          { return KindItemGained }
func (TechniqueLearned) Kind() Kind    { return KindTechniqueLearned }
func (NpcFirstEncountered) Kind() Kind { return KindNpcFirstEncountered }
func (StatChanged) Kind() Kind         { return KindStatChanged }
func (EffectApplied) Kind() Kind       { return KindEffectApplied }
func (QuestStarted) Kind() Kind        { return KindQuestStarted }
func (TimeAdvanced) Kind() Kind        { return KindTimeAdvanced }

func (d ItemGained) Describe() string {
	return fmt.Sprintf("gained %s x%d", d.Name, d.Quantity)
}

func (d TechniqueLearned) Describe() string {
	return "learned " + d.Name
}

func (d NpcFirstEncountered) Describe() string {
	if d.Name != "" {
		return "met " + d.Name
	}
	return "met " + d.NPCID
}

func (d StatChanged) Describe() string {
	target := ""
	if d.TargetID != models.PlayerID {
		target = d.TargetID + " "
	}
	return fmt.Sprintf("%s%s %+d", target, d.Attribute, d.Amount)
}

func (d EffectApplied) Describe() string {
	parts := make([]string, 0, len(d.Bonuses))
	for _, attr := range sortedKeys(d.Bonuses) {
		parts = append(parts, fmt.Sprintf("%s %+d", attr, d.Bonuses[attr]))
	}
	dur := "permanent"
	if d.Duration != models.PermanentDuration {
		dur = fmt.Sprintf("%d turns", d.Duration)
	}
	return fmt.Sprintf("%s on %s (%s, %s)", d.Name, d.TargetID, strings.Join(parts, ", "), dur)
}

func (d QuestStarted) Describe() string {
	return "quest started: " + d.Title
}

func (d TimeAdvanced) Describe() string {
	return fmt.Sprintf("time passes: %d days", d.TotalDays())
}

// TotalDays converts the jump into calendar days.
func (d TimeAdvanced) TotalDays() int {
	return d.Years*models.DaysPerYear + d.Seasons*models.DaysPerSeason + d.Days
}

// Sort orders deltas by kind, keeping the relative order of equal kinds.
func Sort(ds []Delta) {
	slices.SortStableFunc(ds, func(a, b Delta) int { return int(a.Kind()) - int(b.Kind()) })
}

// ErrRejected marks a delta that was not applied. It is never fatal.
var ErrRejected = errors.New("delta rejected")

// RejectedError explains why one delta was not applied.
type RejectedError struct {
	Kind   Kind
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Kind, e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrRejected }

// Reject builds a RejectedError.
func Reject(k Kind, format string, args ...any) error {
	return &RejectedError{Kind: k, Reason: fmt.Sprintf(format, args...)}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
