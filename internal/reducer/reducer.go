// Package reducer applies validated deltas to world state snapshots.
//
// Every transition clones its input; a snapshot once returned is never
// mutated again, so callers can diff consecutive snapshots freely.
package reducer

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/tatianab/chronicle/internal/delta"
	"github.com/tatianab/chronicle/internal/models"
)

// Reducer holds the few dependencies the transitions need.
type Reducer struct {
	// NewID returns a fresh id with the given prefix.
	NewID  func(prefix string) string
	logger *slog.Logger
}

// New returns a Reducer that mints ULID based ids.
func New(logger *slog.Logger) *Reducer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reducer{NewID: ULID, logger: logger}
}

// ULID returns prefix-<lowercase ulid>.
func ULID(prefix string) string {
	return prefix + "-" + strings.ToLower(ulid.Make().String())
}

// Rejected pairs a delta with the reason it was not applied.
type Rejected struct {
	Delta  delta.Delta
	Reason string
}

func (r Rejected) String() string {
	return fmt.Sprintf("%s (%s)", r.Delta.Describe(), r.Reason)
}

// TurnResult is the outcome of one turn.
type TurnResult struct {
	State     models.WorldState
	Applied   []delta.Delta
	Rejected  []Rejected
	Completed []string // titles of quests completed this turn
}

// ApplyTurn applies deltas in kind order, then runs the end-of-turn pass. A
// delta that fails or would break an invariant is skipped; the rest still
// apply.
func (r *Reducer) ApplyTurn(s models.WorldState, deltas []delta.Delta) TurnResult {
	ordered := slices.Clone(deltas)
	delta.Sort(ordered)

	res := TurnResult{State: s.Clone(), Applied: []delta.Delta{}, Rejected: []Rejected{}}
	for _, d := range ordered {
		next, err := r.Apply(res.State, d)
		if err == nil {
			if cerr := next.Check(); cerr != nil {
				err = delta.Reject(d.Kind(), "would break invariant: %v", cerr)
			}
		}
		if err != nil {
			r.logger.Info("delta not applied", "kind", d.Kind().String(), "delta", d.Describe(), "reason", err.Error())
			res.Rejected = append(res.Rejected, Rejected{Delta: d, Reason: reason(err)})
			continue
		}
		res.State = next
		res.Applied = append(res.Applied, d)
	}

	res.State, res.Completed = r.EndTurn(res.State)
	return res
}

// Apply performs one transition. The returned error, if any, wraps
// delta.ErrRejected and s is left as it was.
func (r *Reducer) Apply(s models.WorldState, d delta.Delta) (models.WorldState, error) {
	next := s.Clone()
	var err error
	switch d := d.(type) {
	case delta.ItemGained:
		err = r.itemGained(&next, d)
	case delta.TechniqueLearned:
		err = r.techniqueLearned(&next, d)
	case delta.NpcFirstEncountered:
		err = npcFirstEncountered(&next, d)
	case delta.StatChanged:
		err = statChanged(&next, d)
	case delta.EffectApplied:
		err = r.effectApplied(&next, d)
	case delta.QuestStarted:
		err = r.questStarted(&next, d)
	case delta.TimeAdvanced:
		err = timeAdvanced(&next, d)
	default:
		err = fmt.Errorf("%w: unknown delta type %T", delta.ErrRejected, d)
	}
	if err != nil {
		return s, err
	}
	return next, nil
}

func (r *Reducer) itemGained(s *models.WorldState, d delta.ItemGained) error {
	if d.Quantity <= 0 {
		return delta.Reject(d.Kind(), "quantity %d", d.Quantity)
	}
	r.gainItem(s, d.Name, d.Quantity, d.Category, d.Slot, d.Bonuses)
	takeObject(s, d.Name)
	return nil
}

// takeObject removes the first object named name from the current location,
// so a picked-up object cannot be picked up again.
func takeObject(s *models.WorldState, name string) {
	for i := range s.Locations {
		l := &s.Locations[i]
		if l.ID != s.CurrentLocationID {
			continue
		}
		if j := slices.IndexFunc(l.Objects, func(o string) bool { return strings.EqualFold(o, name) }); j >= 0 {
			l.Objects = slices.Delete(l.Objects, j, j+1)
		}
		return
	}
}

// gainItem folds qty into the stack with the same name or starts a new one.
func (r *Reducer) gainItem(s *models.WorldState, name string, qty int, category, slot string, bonuses map[string]int) {
	if i := s.ItemByName(name); i >= 0 {
		s.Inventory[i].Quantity += qty
		return
	}
	if category == "" {
		category = "misc"
	}
	b := make(map[string]int, len(bonuses))
	for k, v := range bonuses {
		b[k] = v
	}
	s.Inventory = append(s.Inventory, models.ItemStack{
		ID:       r.freshID("item", func(id string) bool { return slices.ContainsFunc(s.Inventory, func(it models.ItemStack) bool { return it.ID == id }) }),
		Name:     name,
		Quantity: qty,
		Category: category,
		Slot:     slot,
		Bonuses:  b,
	})
}

func (r *Reducer) techniqueLearned(s *models.WorldState, d delta.TechniqueLearned) error {
	for _, t := range s.Techniques {
		if strings.EqualFold(t.Name, d.Name) {
			return delta.Reject(d.Kind(), "technique %q is already known", t.Name)
		}
	}
	s.Techniques = append(s.Techniques, models.Technique{
		ID:          r.freshID("tech", func(id string) bool { return slices.ContainsFunc(s.Techniques, func(t models.Technique) bool { return t.ID == id }) }),
		Name:        d.Name,
		Description: d.Description,
		Cooldown:    d.Cooldown,
	})
	return nil
}

func npcFirstEncountered(s *models.WorldState, d delta.NpcFirstEncountered) error {
	if _, ok := s.NPC(d.NPCID); !ok {
		return delta.Reject(d.Kind(), "npc %q is not in the world roster", d.NPCID)
	}
	if s.HasEncountered(d.NPCID) {
		return delta.Reject(d.Kind(), "npc %q already encountered", d.NPCID)
	}
	s.EncounteredNPCIDs = append(s.EncounteredNPCIDs, d.NPCID)
	return nil
}

func statChanged(s *models.WorldState, d delta.StatChanged) error {
	c := s.Character(d.TargetID)
	if c == nil {
		return delta.Reject(d.Kind(), "character %q does not exist", d.TargetID)
	}
	a, ok := c.Attributes[d.Attribute]
	if !ok {
		return delta.Reject(d.Kind(), "%s has no attribute %q", c.ID, d.Attribute)
	}
	a.Value = max(a.Value+d.Amount, 0)
	if a.Max != nil {
		a.Value = min(a.Value, *a.Max)
	}
	c.Attributes[d.Attribute] = a
	return nil
}

func (r *Reducer) effectApplied(s *models.WorldState, d delta.EffectApplied) error {
	if d.Duration == 0 || d.Duration < models.PermanentDuration {
		return delta.Reject(d.Kind(), "duration %d", d.Duration)
	}
	c := s.Character(d.TargetID)
	if c == nil {
		return delta.Reject(d.Kind(), "character %q does not exist", d.TargetID)
	}
	for attr := range d.Bonuses {
		if _, ok := c.Attributes[attr]; !ok {
			return delta.Reject(d.Kind(), "%s has no attribute %q", c.ID, attr)
		}
	}

	e := models.Effect{
		ID:        r.freshID("effect", func(id string) bool { return slices.ContainsFunc(s.ActiveEffects, func(e models.Effect) bool { return e.ID == id }) }),
		Name:      d.Name,
		TargetID:  c.ID,
		Bonuses:   make(map[string]int, len(d.Bonuses)),
		Remaining: d.Duration,
	}
	for attr, b := range d.Bonuses {
		e.Bonuses[attr] = b
		a := c.Attributes[attr]
		a.Bonus += b
		c.Attributes[attr] = a
	}
	c.Effects = append(c.Effects, e.ID)
	s.ActiveEffects = append(s.ActiveEffects, e)
	return nil
}

func (r *Reducer) questStarted(s *models.WorldState, d delta.QuestStarted) error {
	for _, q := range s.Quests {
		if strings.EqualFold(q.Title, d.Title) && q.Status != models.QuestFailed {
			return delta.Reject(d.Kind(), "quest %q is already %s", q.Title, q.Status)
		}
	}
	q := models.Quest{
		ID:          r.freshID("quest", func(id string) bool { return slices.ContainsFunc(s.Quests, func(q models.Quest) bool { return q.ID == id }) }),
		Title:       d.Title,
		Description: d.Description,
		Status:      models.QuestActive,
		Objectives:  make([]models.Objective, len(d.Objectives)),
		Reward:      models.Reward{Currency: d.Reward.Currency, Items: slices.Clone(d.Reward.Items)},
	}
	for i, o := range d.Objectives {
		o.Required = max(o.Required, 1)
		o.Current = min(max(o.Current, 0), o.Required)
		o.Done = o.Current >= o.Required
		q.Objectives[i] = o
	}
	s.Quests = append(s.Quests, q)
	return nil
}

func timeAdvanced(s *models.WorldState, d delta.TimeAdvanced) error {
	days := d.TotalDays()
	if days <= 0 {
		return delta.Reject(d.Kind(), "clock only moves forward")
	}
	s.Clock = s.Clock.AddDays(days)
	// One day of story time counts as one turn for durations.
	tick(s, days)
	return nil
}

// EndTurn runs the once-per-turn pass: cooldowns and effect durations drop by
// one, objectives that are now satisfied are marked done, finished quests pay
// out, and the turn counter advances.
func (r *Reducer) EndTurn(s models.WorldState) (models.WorldState, []string) {
	next := s.Clone()
	tick(&next, 1)
	completed := r.progressQuests(&next)
	next.Clock.Turn++
	next.Normalize()
	return next, completed
}

// tick moves time forward by n turns. An expiring effect's own bonus list is
// subtracted from its target, the exact inverse of what was added.
func tick(s *models.WorldState, n int) {
	for _, id := range sortedKeys(s.Cooldowns) {
		if left := s.Cooldowns[id] - n; left > 0 {
			s.Cooldowns[id] = left
		} else {
			delete(s.Cooldowns, id)
		}
	}

	kept := s.ActiveEffects[:0]
	for _, e := range s.ActiveEffects {
		if e.Permanent() {
			kept = append(kept, e)
			continue
		}
		e.Remaining -= n
		if e.Remaining > 0 {
			kept = append(kept, e)
			continue
		}
		if c := s.Character(e.TargetID); c != nil {
			for attr, b := range e.Bonuses {
				if a, ok := c.Attributes[attr]; ok {
					a.Bonus -= b
					c.Attributes[attr] = a
				}
			}
			c.Effects = slices.DeleteFunc(c.Effects, func(id string) bool { return id == e.ID })
		}
	}
	s.ActiveEffects = kept
}

// progressQuests marks objectives aimed at a met NPC or the current location
// as reached and completes quests whose objectives are all done.
func (r *Reducer) progressQuests(s *models.WorldState) []string {
	var completed []string
	for qi := range s.Quests {
		q := &s.Quests[qi]
		if q.Status != models.QuestActive {
			continue
		}
		for oi := range q.Objectives {
			o := &q.Objectives[oi]
			if o.Done || o.TargetID == "" {
				continue
			}
			if s.HasEncountered(o.TargetID) || o.TargetID == s.CurrentLocationID {
				o.Current = o.Required
			}
			o.Done = o.Current >= o.Required
		}
		if !q.ObjectivesDone() {
			continue
		}
		q.Status = models.QuestCompleted
		s.Player.Currency += q.Reward.Currency
		for _, it := range q.Reward.Items {
			r.gainItem(s, it, 1, "", "", nil)
		}
		completed = append(completed, q.Title)
		r.logger.Info("quest completed", "quest", q.ID, "title", q.Title)
	}
	return completed
}

// freshID asks NewID for an id and suffixes it until taken reports it unused.
func (r *Reducer) freshID(prefix string, taken func(string) bool) string {
	base := r.NewID(prefix)
	id := base
	for n := 2; taken(id); n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	return id
}

func reason(err error) string {
	var re *delta.RejectedError
	if errors.As(err, &re) {
		return re.Reason
	}
	return err.Error()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
