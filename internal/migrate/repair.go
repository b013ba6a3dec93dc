package migrate

import (
	"fmt"
	"slices"
	"sort"

	"github.com/tatianab/chronicle/internal/models"
)

const (
	passDefaults = "defaults"
	passDangling = "dangling"
	passBounds   = "bounds"
	passDedup    = "dedup"
	passDerived  = "derived"
)

type repairer struct {
	repairs []Repair
}

func (r *repairer) note(pass, path, format string, args ...any) {
	r.repairs = append(r.repairs, Repair{Pass: pass, Path: path, Detail: fmt.Sprintf(format, args...)})
}

// repair restores the document invariants after the upgrade chain. The passes
// run in a fixed order and each is idempotent, so repairing a repaired state
// reports nothing.
func repair(s *models.WorldState) []Repair {
	r := &repairer{}
	s.Normalize()
	r.fillDefaults(s)
	r.dropDangling(s)
	r.clampBounds(s)
	r.dedupe(s)
	r.recomputeDerived(s)
	return r.repairs
}

// uniqueID returns base, or base-2, base-3... whichever is unused, and marks
// it used.
func uniqueID(used map[string]bool, base string) string {
	id := base
	for n := 2; used[id]; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	used[id] = true
	return id
}

func idBase(prefix, name string, i int) string {
	if s := slug(name); s != "" {
		return prefix + s
	}
	return fmt.Sprintf("%s%d", prefix, i+1)
}

func (r *repairer) fillDefaults(s *models.WorldState) {
	if s.Player.ID == "" {
		s.Player.ID = models.PlayerID
		r.note(passDefaults, "player.id", "set to %q", models.PlayerID)
	}
	if s.Player.Name == "" {
		s.Player.Name = "Traveler"
		r.note(passDefaults, "player.name", "set to %q", s.Player.Name)
	}

	used := map[string]bool{s.Player.ID: true}
	for _, n := range s.NPCs {
		used[n.ID] = n.ID != ""
	}
	for i := range s.NPCs {
		n := &s.NPCs[i]
		if n.ID == "" {
			n.ID = uniqueID(used, idBase("npc-", n.Name, i))
			r.note(passDefaults, fmt.Sprintf("npcs[%d].id", i), "generated %q", n.ID)
		}
		if n.Name == "" {
			n.Name = n.ID
			r.note(passDefaults, fmt.Sprintf("npcs[%d].name", i), "set to id")
		}
	}

	used = map[string]bool{}
	for _, l := range s.Locations {
		used[l.ID] = l.ID != ""
	}
	for i := range s.Locations {
		l := &s.Locations[i]
		if l.ID == "" {
			l.ID = uniqueID(used, idBase("location-", l.Name, i))
			r.note(passDefaults, fmt.Sprintf("locations[%d].id", i), "generated %q", l.ID)
		}
		if l.Name == "" {
			l.Name = l.ID
			r.note(passDefaults, fmt.Sprintf("locations[%d].name", i), "set to id")
		}
	}

	used = map[string]bool{}
	for _, it := range s.Inventory {
		used[it.ID] = it.ID != ""
	}
	for i := range s.Inventory {
		it := &s.Inventory[i]
		if it.ID == "" {
			it.ID = uniqueID(used, fmt.Sprintf("item-%d", i+1))
			r.note(passDefaults, fmt.Sprintf("inventory[%d].id", i), "generated %q", it.ID)
		}
		if it.Name == "" {
			it.Name = "Unknown item"
			r.note(passDefaults, fmt.Sprintf("inventory[%d].name", i), "set to %q", it.Name)
		}
		if it.Category == "" {
			it.Category = "misc"
			r.note(passDefaults, fmt.Sprintf("inventory[%d].category", i), "set to %q", it.Category)
		}
	}

	used = map[string]bool{}
	for _, t := range s.Techniques {
		used[t.ID] = t.ID != ""
	}
	for i := range s.Techniques {
		t := &s.Techniques[i]
		if t.ID == "" {
			t.ID = uniqueID(used, idBase("tech-", t.Name, i))
			r.note(passDefaults, fmt.Sprintf("techniques[%d].id", i), "generated %q", t.ID)
		}
		if t.Name == "" {
			t.Name = t.ID
			r.note(passDefaults, fmt.Sprintf("techniques[%d].name", i), "set to id")
		}
	}

	used = map[string]bool{}
	for _, e := range s.ActiveEffects {
		used[e.ID] = e.ID != ""
	}
	for i := range s.ActiveEffects {
		e := &s.ActiveEffects[i]
		if e.ID == "" {
			e.ID = uniqueID(used, fmt.Sprintf("effect-%d", i+1))
			r.note(passDefaults, fmt.Sprintf("active_effects[%d].id", i), "generated %q", e.ID)
		}
		if e.TargetID == "" {
			e.TargetID = s.Player.ID
			r.note(passDefaults, fmt.Sprintf("active_effects[%d].target_id", i), "targeted at the player")
		}
	}

	used = map[string]bool{}
	for _, q := range s.Quests {
		used[q.ID] = q.ID != ""
	}
	for i := range s.Quests {
		q := &s.Quests[i]
		if q.ID == "" {
			q.ID = uniqueID(used, idBase("quest-", q.Title, i))
			r.note(passDefaults, fmt.Sprintf("quests[%d].id", i), "generated %q", q.ID)
		}
		if q.Title == "" {
			q.Title = q.ID
			r.note(passDefaults, fmt.Sprintf("quests[%d].title", i), "set to id")
		}
		if !q.Status.Valid() {
			r.note(passDefaults, fmt.Sprintf("quests[%d].status", i), "%q replaced with %q", q.Status, models.QuestActive)
			q.Status = models.QuestActive
		}
	}
}

func (r *repairer) dropDangling(s *models.WorldState) {
	items := idSet(len(s.Inventory), func(i int) string { return s.Inventory[i].ID })
	npcs := idSet(len(s.NPCs), func(i int) string { return s.NPCs[i].ID })
	locations := idSet(len(s.Locations), func(i int) string { return s.Locations[i].ID })
	techniques := idSet(len(s.Techniques), func(i int) string { return s.Techniques[i].ID })

	chars := map[string]bool{s.Player.ID: true}
	for id := range npcs {
		chars[id] = true
	}

	kept := s.ActiveEffects[:0]
	for _, e := range s.ActiveEffects {
		if !chars[e.TargetID] {
			r.note(passDangling, "active_effects."+e.ID, "target %q does not exist; effect dropped", e.TargetID)
			continue
		}
		kept = append(kept, e)
	}
	s.ActiveEffects = kept
	effects := idSet(len(s.ActiveEffects), func(i int) string { return s.ActiveEffects[i].ID })

	fixCharacter := func(c *models.Character, path string) {
		// Only the player carries an inventory; NPC equipment is descriptive.
		if c.ID == s.Player.ID {
			for _, slot := range sortedKeys(c.Equipment) {
				if id := c.Equipment[slot]; !items[id] {
					delete(c.Equipment, slot)
					r.note(passDangling, path+".equipment."+slot, "item %q not in inventory; unequipped", id)
				}
			}
		}
		refs := c.Effects[:0]
		for _, id := range c.Effects {
			if !effects[id] {
				r.note(passDangling, path+".effects", "effect %q does not exist; reference dropped", id)
				continue
			}
			refs = append(refs, id)
		}
		c.Effects = refs
	}
	fixCharacter(&s.Player, "player")
	for i := range s.NPCs {
		n := &s.NPCs[i]
		fixCharacter(n, "npcs."+n.ID)
		if n.LocationID != "" && !locations[n.LocationID] {
			r.note(passDangling, "npcs."+n.ID+".location_id", "location %q does not exist; cleared", n.LocationID)
			n.LocationID = ""
		}
	}
	if s.Player.LocationID != "" && !locations[s.Player.LocationID] {
		r.note(passDangling, "player.location_id", "location %q does not exist; cleared", s.Player.LocationID)
		s.Player.LocationID = ""
	}
	if s.CurrentLocationID != "" && !locations[s.CurrentLocationID] {
		r.note(passDangling, "current_location_id", "location %q does not exist; cleared", s.CurrentLocationID)
		s.CurrentLocationID = ""
	}

	for qi := range s.Quests {
		q := &s.Quests[qi]
		for oi := range q.Objectives {
			o := &q.Objectives[oi]
			if o.TargetID != "" && !npcs[o.TargetID] && !locations[o.TargetID] {
				r.note(passDangling, fmt.Sprintf("quests.%s.objectives[%d].target_id", q.ID, oi), "target %q does not exist; cleared", o.TargetID)
				o.TargetID = ""
			}
		}
	}

	met := s.EncounteredNPCIDs[:0]
	for _, id := range s.EncounteredNPCIDs {
		if !npcs[id] {
			r.note(passDangling, "encountered_npc_ids", "npc %q does not exist; dropped", id)
			continue
		}
		met = append(met, id)
	}
	s.EncounteredNPCIDs = met

	for _, id := range sortedKeys(s.Cooldowns) {
		if !techniques[id] {
			delete(s.Cooldowns, id)
			r.note(passDangling, "cooldowns."+id, "technique does not exist; cooldown dropped")
		}
	}
}

func (r *repairer) clampBounds(s *models.WorldState) {
	clampCharacter := func(c *models.Character, path string) {
		for _, name := range sortedKeys(c.Attributes) {
			a := c.Attributes[name]
			p := path + ".attributes." + name
			if a.Max != nil && *a.Max < 0 {
				r.note(passBounds, p+".max", "%d raised to 0", *a.Max)
				zero := 0
				a.Max = &zero
			}
			if a.Value < 0 {
				r.note(passBounds, p+".value", "%d raised to 0", a.Value)
				a.Value = 0
			}
			if a.Max != nil && a.Value > *a.Max {
				r.note(passBounds, p+".value", "%d lowered to max %d", a.Value, *a.Max)
				a.Value = *a.Max
			}
			c.Attributes[name] = a
		}
		if c.Currency < 0 {
			r.note(passBounds, path+".currency", "%d raised to 0", c.Currency)
			c.Currency = 0
		}
	}
	clampCharacter(&s.Player, "player")
	for i := range s.NPCs {
		clampCharacter(&s.NPCs[i], "npcs."+s.NPCs[i].ID)
	}

	stacks := s.Inventory[:0]
	for _, it := range s.Inventory {
		if it.Quantity <= 0 {
			r.note(passBounds, "inventory."+it.ID, "quantity %d; stack removed", it.Quantity)
			for slot, id := range s.Player.Equipment {
				if id == it.ID {
					delete(s.Player.Equipment, slot)
				}
			}
			continue
		}
		stacks = append(stacks, it)
	}
	s.Inventory = stacks

	for i := range s.Techniques {
		if t := &s.Techniques[i]; t.Cooldown < 0 {
			r.note(passBounds, "techniques."+t.ID+".cooldown", "%d raised to 0", t.Cooldown)
			t.Cooldown = 0
		}
	}
	for _, id := range sortedKeys(s.Cooldowns) {
		if turns := s.Cooldowns[id]; turns <= 0 {
			delete(s.Cooldowns, id)
			r.note(passBounds, "cooldowns."+id, "%d remaining; cooldown removed", turns)
		}
	}

	effects := s.ActiveEffects[:0]
	for _, e := range s.ActiveEffects {
		if e.Remaining == 0 || e.Remaining < models.PermanentDuration {
			r.note(passBounds, "active_effects."+e.ID, "remaining %d; effect removed", e.Remaining)
			continue
		}
		effects = append(effects, e)
	}
	s.ActiveEffects = effects

	for qi := range s.Quests {
		q := &s.Quests[qi]
		for oi := range q.Objectives {
			o := &q.Objectives[oi]
			p := fmt.Sprintf("quests.%s.objectives[%d]", q.ID, oi)
			if o.Required < 1 {
				r.note(passBounds, p+".required", "%d raised to 1", o.Required)
				o.Required = 1
			}
			if o.Current < 0 {
				r.note(passBounds, p+".current", "%d raised to 0", o.Current)
				o.Current = 0
			}
			if o.Current > o.Required {
				r.note(passBounds, p+".current", "%d lowered to %d", o.Current, o.Required)
				o.Current = o.Required
			}
		}
	}

	c := &s.Clock
	if c.Year < 1 {
		r.note(passBounds, "clock.year", "%d raised to 1", c.Year)
		c.Year = 1
	}
	if c.Season < 0 || c.Season >= models.SeasonsPerYear {
		r.note(passBounds, "clock.season", "%d clamped", c.Season)
		c.Season = clampInt(c.Season, 0, models.SeasonsPerYear-1)
	}
	if c.Day < 0 || c.Day >= models.DaysPerSeason {
		r.note(passBounds, "clock.day", "%d clamped", c.Day)
		c.Day = clampInt(c.Day, 0, models.DaysPerSeason-1)
	}
	if c.Turn < 0 {
		r.note(passBounds, "clock.turn", "%d raised to 0", c.Turn)
		c.Turn = 0
	}
}

func (r *repairer) dedupe(s *models.WorldState) {
	s.NPCs = dedupeBy(r, "npcs", s.NPCs, func(c models.Character) string { return c.ID })
	s.Locations = dedupeBy(r, "locations", s.Locations, func(l models.Location) string { return l.ID })
	s.Inventory = dedupeBy(r, "inventory", s.Inventory, func(it models.ItemStack) string { return it.ID })
	s.Techniques = dedupeBy(r, "techniques", s.Techniques, func(t models.Technique) string { return t.ID })
	s.ActiveEffects = dedupeBy(r, "active_effects", s.ActiveEffects, func(e models.Effect) string { return e.ID })
	s.Quests = dedupeBy(r, "quests", s.Quests, func(q models.Quest) string { return q.ID })
	s.EncounteredNPCIDs = dedupeBy(r, "encountered_npc_ids", s.EncounteredNPCIDs, func(id string) string { return id })
}

func dedupeBy[T any](r *repairer, path string, in []T, key func(T) string) []T {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, v := range in {
		k := key(v)
		if seen[k] {
			r.note(passDedup, path, "duplicate id %q dropped", k)
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// recomputeDerived rebuilds every field that is a function of other fields:
// attribute bonuses and effect references from the active effects, equipped
// flags from the equipment map, and objective and quest completion.
func (r *repairer) recomputeDerived(s *models.WorldState) {
	bonus := map[string]map[string]int{}
	refs := map[string][]string{}
	for _, e := range s.ActiveEffects {
		if bonus[e.TargetID] == nil {
			bonus[e.TargetID] = map[string]int{}
		}
		for attr, b := range e.Bonuses {
			bonus[e.TargetID][attr] += b
		}
		refs[e.TargetID] = append(refs[e.TargetID], e.ID)
	}

	fixCharacter := func(c *models.Character, path string) {
		for _, name := range sortedKeys(c.Attributes) {
			a := c.Attributes[name]
			want := bonus[c.ID][name]
			if a.Bonus != want {
				r.note(passDerived, path+".attributes."+name+".bonus", "%d recomputed as %d", a.Bonus, want)
				a.Bonus = want
				c.Attributes[name] = a
			}
		}
		want := refs[c.ID]
		if want == nil {
			want = []string{}
		}
		if !slices.Equal(c.Effects, want) {
			r.note(passDerived, path+".effects", "rebuilt from active effects")
			c.Effects = want
		}
	}
	fixCharacter(&s.Player, "player")
	for i := range s.NPCs {
		fixCharacter(&s.NPCs[i], "npcs."+s.NPCs[i].ID)
	}

	equipped := map[string]bool{}
	for _, id := range s.Player.Equipment {
		equipped[id] = true
	}
	for i := range s.Inventory {
		it := &s.Inventory[i]
		if it.Equipped != equipped[it.ID] {
			r.note(passDerived, "inventory."+it.ID+".equipped", "set to %t", equipped[it.ID])
			it.Equipped = equipped[it.ID]
		}
	}

	for qi := range s.Quests {
		q := &s.Quests[qi]
		for oi := range q.Objectives {
			o := &q.Objectives[oi]
			if done := o.Current >= o.Required; o.Done != done {
				r.note(passDerived, fmt.Sprintf("quests.%s.objectives[%d].done", q.ID, oi), "set to %t", done)
				o.Done = done
			}
		}
	}
}

func idSet(n int, id func(int) string) map[string]bool {
	out := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		out[id(i)] = true
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
