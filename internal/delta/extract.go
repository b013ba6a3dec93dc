package delta

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tatianab/chronicle/internal/models"
)

//go:embed schema.json
var schemaJSON string

var rawSchema = jsonschema.MustCompileString("delta.schema.json", schemaJSON)

// SchemaJSON returns the JSON schema every raw delta is validated against.
func SchemaJSON() string { return schemaJSON }

// Modality says whether a described event is happening now. Only present
// events change state; memories, hearsay, dreams and hypotheticals are
// narrative colour.
type Modality string

const (
	ModalityPresent      Modality = "present"
	ModalityMemory       Modality = "memory"
	ModalityHearsay      Modality = "hearsay"
	ModalityDream        Modality = "dream"
	ModalityHypothetical Modality = "hypothetical"
)

// RawBonus is one attribute bonus as the generator writes it.
type RawBonus struct {
	Attribute string  `json:"attribute"`
	Amount    float64 `json:"amount"`
}

// RawObjective is one quest objective as the generator writes it.
type RawObjective struct {
	Description string   `json:"description"`
	Target      string   `json:"target"`
	Required    *float64 `json:"required"`
}

// RawDelta is the flat wire form of every delta kind. Which fields matter
// depends on Kind.
type RawDelta struct {
	Kind           string         `json:"kind"`
	Modality       Modality       `json:"modality"`
	Evidence       string         `json:"evidence"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	Quantity       *float64       `json:"quantity"`
	Category       string         `json:"category"`
	Slot           string         `json:"slot"`
	Bonuses        []RawBonus     `json:"bonuses"`
	NPC            string         `json:"npc"`
	Target         string         `json:"target"`
	Attribute      string         `json:"attribute"`
	Amount         float64        `json:"amount"`
	Duration       float64        `json:"duration"`
	Cooldown       float64        `json:"cooldown"`
	Objectives     []RawObjective `json:"objectives"`
	RewardCurrency float64        `json:"reward_currency"`
	RewardItems    []string       `json:"reward_items"`
	Years          float64        `json:"years"`
	Seasons        float64        `json:"seasons"`
	Days           float64        `json:"days"`
}

// Rejection records why one raw delta was dropped. Index is its position in
// the response, or -1 when the whole response was unusable.
type Rejection struct {
	Index    int    `json:"index" yaml:"index"`
	Kind     string `json:"kind" yaml:"kind"`
	Reason   string `json:"reason" yaml:"reason"`
	Evidence string `json:"evidence,omitempty" yaml:"evidence,omitempty"`
}

func (r Rejection) String() string {
	kind := r.Kind
	if kind == "" {
		kind = "response"
	}
	return fmt.Sprintf("%s: %s", kind, r.Reason)
}

// Result is the outcome of validating one generator response.
type Result struct {
	Accepted []Delta
	Rejected []Rejection
}

// Extract validates a structured generator response against the state and
// its candidate set. It never fails: a response that cannot be used at all
// yields zero deltas and one rejection.
func Extract(state models.WorldState, cands Candidates, raw []byte, limits Limits) Result {
	var res Result
	items, err := splitResponse(raw)
	if err != nil {
		res.Rejected = append(res.Rejected, Rejection{Index: -1, Reason: err.Error()})
		return res
	}

	v := validator{state: state, cands: cands, limits: limits}
	for i, item := range items {
		d, rd, reason := v.one(item)
		if reason != "" {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Kind: rd.Kind, Reason: reason, Evidence: rd.Evidence})
			continue
		}
		if len(res.Accepted) >= limits.MaxDeltasPerTurn {
			res.Rejected = append(res.Rejected, Rejection{Index: i, Kind: rd.Kind, Reason: fmt.Sprintf("more than %d deltas in one turn", limits.MaxDeltasPerTurn), Evidence: rd.Evidence})
			continue
		}
		res.Accepted = append(res.Accepted, d)
	}
	return res
}

// splitResponse accepts {"deltas": [...]} or a bare list, optionally inside a
// markdown fence.
func splitResponse(raw []byte) ([]any, error) {
	text := strings.TrimSpace(string(raw))
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}

	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("response is not JSON: %v", err)
	}
	switch t := doc.(type) {
	case []any:
		return t, nil
	case map[string]any:
		list, present := t["deltas"]
		if !present || list == nil {
			return nil, nil
		}
		if items, ok := list.([]any); ok {
			return items, nil
		}
	}
	return nil, errors.New(`response is not a list of deltas`)
}

type validator struct {
	state  models.WorldState
	cands  Candidates
	limits Limits
}

func (v validator) one(item any) (Delta, RawDelta, string) {
	var rd RawDelta
	m, ok := item.(map[string]any)
	if !ok {
		return nil, rd, "delta is not an object"
	}
	m = stripNulls(m).(map[string]any)
	rd.Kind, _ = m["kind"].(string)
	rd.Evidence, _ = m["evidence"].(string)

	if err := rawSchema.Validate(m); err != nil {
		return nil, rd, "schema: " + schemaReason(err)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, rd, err.Error()
	}
	if err := json.Unmarshal(b, &rd); err != nil {
		return nil, rd, err.Error()
	}

	if rd.Modality != ModalityPresent {
		return nil, rd, fmt.Sprintf("%s, not a present-moment event", rd.Modality)
	}

	kind, _ := ParseKind(rd.Kind)
	switch kind {
	case KindItemGained:
		return v.itemGained(rd)
	case KindTechniqueLearned:
		return v.techniqueLearned(rd)
	case KindNpcFirstEncountered:
		return v.npcFirstEncountered(rd)
	case KindStatChanged:
		return v.statChanged(rd)
	case KindEffectApplied:
		return v.effectApplied(rd)
	case KindQuestStarted:
		return v.questStarted(rd)
	case KindTimeAdvanced:
		return v.timeAdvanced(rd)
	}
	return nil, rd, fmt.Sprintf("unknown kind %q", rd.Kind)
}

func (v validator) itemGained(rd RawDelta) (Delta, RawDelta, string) {
	name, ok := v.cands.Item(rd.Name)
	if !ok {
		return nil, rd, fmt.Sprintf("item %q is not held, here or promised", rd.Name)
	}
	qty := 1
	if rd.Quantity != nil {
		if qty, ok = intIn(*rd.Quantity, 1, v.limits.MaxItemQuantity); !ok {
			return nil, rd, fmt.Sprintf("quantity %v outside [1, %d]", *rd.Quantity, v.limits.MaxItemQuantity)
		}
	}
	bonuses, reason := v.bonuses(rd.Bonuses, nil)
	if reason != "" {
		return nil, rd, reason
	}
	d := ItemGained{
		Name:     name,
		Quantity: qty,
		Category: strings.TrimSpace(rd.Category),
		Slot:     strings.TrimSpace(rd.Slot),
		Bonuses:  bonuses,
	}
	// An existing stack keeps its own description; only the count moves.
	if i := v.state.ItemByName(name); i >= 0 {
		it := v.state.Inventory[i]
		d.Category, d.Slot, d.Bonuses = it.Category, it.Slot, map[string]int{}
	}
	if d.Category == "" {
		d.Category = "misc"
	}
	return d, rd, ""
}

func (v validator) techniqueLearned(rd RawDelta) (Delta, RawDelta, string) {
	name := strings.TrimSpace(rd.Name)
	if v.cands.KnowsTechnique(name) {
		return nil, rd, fmt.Sprintf("technique %q is already known", name)
	}
	cd, ok := intIn(rd.Cooldown, 0, v.limits.MaxCooldown)
	if !ok {
		return nil, rd, fmt.Sprintf("cooldown %v outside [0, %d]", rd.Cooldown, v.limits.MaxCooldown)
	}
	return TechniqueLearned{Name: name, Description: strings.TrimSpace(rd.Description), Cooldown: cd}, rd, ""
}

func (v validator) npcFirstEncountered(rd RawDelta) (Delta, RawDelta, string) {
	ref, ok := v.cands.UnmetNPC(rd.NPC)
	if !ok {
		if t, known := v.cands.Target(rd.NPC); known && t.ID != models.PlayerID {
			return nil, rd, fmt.Sprintf("%s has already been encountered", t.Name)
		}
		return nil, rd, fmt.Sprintf("npc %q is not in the world roster", rd.NPC)
	}
	return NpcFirstEncountered{NPCID: ref.ID, Name: ref.Name}, rd, ""
}

func (v validator) statChanged(rd RawDelta) (Delta, RawDelta, string) {
	t, ok := v.cands.Target(rd.Target)
	if !ok {
		return nil, rd, fmt.Sprintf("target %q does not exist", rd.Target)
	}
	attr, ok := t.Attribute(rd.Attribute)
	if !ok {
		return nil, rd, fmt.Sprintf("%s has no attribute %q", t.Name, rd.Attribute)
	}
	amount, ok := intIn(rd.Amount, -v.limits.MaxStatDelta, v.limits.MaxStatDelta)
	if !ok {
		return nil, rd, fmt.Sprintf("change %v outside [-%d, %d]", rd.Amount, v.limits.MaxStatDelta, v.limits.MaxStatDelta)
	}
	if amount == 0 {
		return nil, rd, "change of zero"
	}
	return StatChanged{TargetID: t.ID, Attribute: attr, Amount: amount}, rd, ""
}

func (v validator) effectApplied(rd RawDelta) (Delta, RawDelta, string) {
	t, ok := v.cands.Target(rd.Target)
	if !ok {
		return nil, rd, fmt.Sprintf("target %q does not exist", rd.Target)
	}
	bonuses, reason := v.bonuses(rd.Bonuses, &t)
	if reason != "" {
		return nil, rd, reason
	}
	dur, ok := intIn(rd.Duration, models.PermanentDuration, v.limits.MaxEffectDuration)
	if !ok || dur == 0 {
		return nil, rd, fmt.Sprintf("duration %v is neither -1 nor in [1, %d]", rd.Duration, v.limits.MaxEffectDuration)
	}
	return EffectApplied{Name: strings.TrimSpace(rd.Name), TargetID: t.ID, Bonuses: bonuses, Duration: dur}, rd, ""
}

func (v validator) questStarted(rd RawDelta) (Delta, RawDelta, string) {
	if len(rd.Objectives) > v.limits.MaxObjectives {
		return nil, rd, fmt.Sprintf("%d objectives, at most %d allowed", len(rd.Objectives), v.limits.MaxObjectives)
	}
	d := QuestStarted{
		Title:       strings.TrimSpace(rd.Name),
		Description: strings.TrimSpace(rd.Description),
		Objectives:  []models.Objective{},
		Reward:      models.Reward{Items: []string{}},
	}
	for i, o := range rd.Objectives {
		obj := models.Objective{Description: strings.TrimSpace(o.Description), Required: 1}
		if o.Required != nil {
			n, ok := intIn(*o.Required, 1, v.limits.MaxItemQuantity)
			if !ok {
				return nil, rd, fmt.Sprintf("objective %d requires %v, outside [1, %d]", i, *o.Required, v.limits.MaxItemQuantity)
			}
			obj.Required = n
		}
		if strings.TrimSpace(o.Target) != "" {
			id, ok := v.cands.Place(o.Target)
			if !ok {
				return nil, rd, fmt.Sprintf("objective %d targets unknown %q", i, o.Target)
			}
			obj.TargetID = id
		}
		d.Objectives = append(d.Objectives, obj)
	}
	gold, ok := intIn(rd.RewardCurrency, 0, v.limits.MaxRewardCurrency)
	if !ok {
		return nil, rd, fmt.Sprintf("reward %v outside [0, %d]", rd.RewardCurrency, v.limits.MaxRewardCurrency)
	}
	d.Reward.Currency = gold
	for _, it := range rd.RewardItems {
		if it = strings.TrimSpace(it); it != "" {
			d.Reward.Items = append(d.Reward.Items, it)
		}
	}
	return d, rd, ""
}

func (v validator) timeAdvanced(rd RawDelta) (Delta, RawDelta, string) {
	maxDays := v.limits.MaxTimeAdvanceDays
	y, okY := intIn(rd.Years, 0, maxDays/models.DaysPerYear+1)
	s, okS := intIn(rd.Seasons, 0, maxDays/models.DaysPerSeason+1)
	dd, okD := intIn(rd.Days, 0, maxDays)
	if !okY || !okS || !okD {
		return nil, rd, fmt.Sprintf("jump longer than %d days", maxDays)
	}
	d := TimeAdvanced{Years: y, Seasons: s, Days: dd}
	total := d.TotalDays()
	if total > maxDays {
		return nil, rd, fmt.Sprintf("jump of %d days is longer than %d", total, maxDays)
	}
	if total < v.limits.MinTimeAdvanceDays {
		return nil, rd, fmt.Sprintf("jump of %d days is below the %d day threshold", total, v.limits.MinTimeAdvanceDays)
	}
	return d, rd, ""
}

// bonuses validates a bonus list. With a target, every attribute must exist
// on it and is canonicalised; repeated attributes are summed.
func (v validator) bonuses(raw []RawBonus, t *Target) (map[string]int, string) {
	out := map[string]int{}
	for _, b := range raw {
		attr := strings.TrimSpace(b.Attribute)
		if t != nil {
			canon, ok := t.Attribute(attr)
			if !ok {
				return nil, fmt.Sprintf("%s has no attribute %q", t.Name, attr)
			}
			attr = canon
		}
		n, ok := intIn(b.Amount, -v.limits.MaxEffectBonus, v.limits.MaxEffectBonus)
		if !ok {
			return nil, fmt.Sprintf("bonus %v to %s outside [-%d, %d]", b.Amount, attr, v.limits.MaxEffectBonus, v.limits.MaxEffectBonus)
		}
		out[attr] += n
	}
	return out, ""
}

// intIn converts a finite whole number inside [lo, hi].
func intIn(f float64, lo, hi int) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < float64(lo) || f > float64(hi) {
		return 0, false
	}
	return int(f), true
}

func stripNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if e != nil {
				out[k] = stripNulls(e)
			}
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, e := range t {
			if e != nil {
				out = append(out, stripNulls(e))
			}
		}
		return out
	}
	return v
}

// schemaReason reduces a validation error to its most specific cause.
func schemaReason(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return ve.InstanceLocation + ": " + ve.Message
}
