package models

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Clone returns a deep copy. Snapshots are never mutated once published, so
// every transition starts from a clone.
func (s WorldState) Clone() WorldState {
	out := s
	out.World.Possibilities = slices.Clone(s.World.Possibilities)
	out.Player = s.Player.Clone()
	out.NPCs = make([]Character, len(s.NPCs))
	for i, c := range s.NPCs {
		out.NPCs[i] = c.Clone()
	}
	out.Locations = make([]Location, len(s.Locations))
	for i, l := range s.Locations {
		l.Objects = slices.Clone(l.Objects)
		out.Locations[i] = l
	}
	out.Inventory = make([]ItemStack, len(s.Inventory))
	for i, it := range s.Inventory {
		it.Bonuses = maps.Clone(it.Bonuses)
		out.Inventory[i] = it
	}
	out.Techniques = slices.Clone(s.Techniques)
	out.ActiveEffects = make([]Effect, len(s.ActiveEffects))
	for i, e := range s.ActiveEffects {
		e.Bonuses = maps.Clone(e.Bonuses)
		out.ActiveEffects[i] = e
	}
	out.Quests = make([]Quest, len(s.Quests))
	for i, q := range s.Quests {
		q.Objectives = slices.Clone(q.Objectives)
		q.Reward.Items = slices.Clone(q.Reward.Items)
		out.Quests[i] = q
	}
	out.Cooldowns = maps.Clone(s.Cooldowns)
	out.EncounteredNPCIDs = slices.Clone(s.EncounteredNPCIDs)
	out.History.Entries = make([]HistoryEntry, len(s.History.Entries))
	for i, h := range s.History.Entries {
		h.Applied = slices.Clone(h.Applied)
		h.Rejected = slices.Clone(h.Rejected)
		out.History.Entries[i] = h
	}
	out.Normalize()
	return out
}

// Clone returns a deep copy of the character.
func (c Character) Clone() Character {
	out := c
	out.Attributes = make(map[string]Attribute, len(c.Attributes))
	for k, a := range c.Attributes {
		if a.Max != nil {
			m := *a.Max
			a.Max = &m
		}
		out.Attributes[k] = a
	}
	out.Traits = maps.Clone(c.Traits)
	out.Effects = slices.Clone(c.Effects)
	out.Equipment = maps.Clone(c.Equipment)
	return out
}

// Normalize replaces nil collections with empty ones so a document reads the
// same after a round trip through any encoding.
func (s *WorldState) Normalize() {
	if s.World.Possibilities == nil {
		s.World.Possibilities = []string{}
	}
	s.Player.normalize()
	if s.NPCs == nil {
		s.NPCs = []Character{}
	}
	for i := range s.NPCs {
		s.NPCs[i].normalize()
	}
	if s.Locations == nil {
		s.Locations = []Location{}
	}
	for i := range s.Locations {
		if s.Locations[i].Objects == nil {
			s.Locations[i].Objects = []string{}
		}
	}
	if s.Inventory == nil {
		s.Inventory = []ItemStack{}
	}
	for i := range s.Inventory {
		if s.Inventory[i].Bonuses == nil {
			s.Inventory[i].Bonuses = map[string]int{}
		}
	}
	if s.Techniques == nil {
		s.Techniques = []Technique{}
	}
	if s.ActiveEffects == nil {
		s.ActiveEffects = []Effect{}
	}
	for i := range s.ActiveEffects {
		if s.ActiveEffects[i].Bonuses == nil {
			s.ActiveEffects[i].Bonuses = map[string]int{}
		}
	}
	if s.Quests == nil {
		s.Quests = []Quest{}
	}
	for i := range s.Quests {
		if s.Quests[i].Objectives == nil {
			s.Quests[i].Objectives = []Objective{}
		}
		if s.Quests[i].Reward.Items == nil {
			s.Quests[i].Reward.Items = []string{}
		}
	}
	if s.Cooldowns == nil {
		s.Cooldowns = map[string]int{}
	}
	if s.EncounteredNPCIDs == nil {
		s.EncounteredNPCIDs = []string{}
	}
	if s.History.Entries == nil {
		s.History.Entries = []HistoryEntry{}
	}
	for i := range s.History.Entries {
		if s.History.Entries[i].Applied == nil {
			s.History.Entries[i].Applied = []string{}
		}
		if s.History.Entries[i].Rejected == nil {
			s.History.Entries[i].Rejected = []string{}
		}
	}
}

func (c *Character) normalize() {
	if c.Attributes == nil {
		c.Attributes = map[string]Attribute{}
	}
	if c.Traits == nil {
		c.Traits = map[string]string{}
	}
	if c.Effects == nil {
		c.Effects = []string{}
	}
	if c.Equipment == nil {
		c.Equipment = map[string]string{}
	}
}

// Character returns a pointer to the player or NPC with the given id, or nil.
// The pointer aliases s; callers mutate only clones.
func (s *WorldState) Character(id string) *Character {
	if id == "" {
		return nil
	}
	if s.Player.ID == id {
		return &s.Player
	}
	for i := range s.NPCs {
		if s.NPCs[i].ID == id {
			return &s.NPCs[i]
		}
	}
	return nil
}

// NPC returns the NPC with the given id.
func (s *WorldState) NPC(id string) (Character, bool) {
	for _, n := range s.NPCs {
		if n.ID == id {
			return n, true
		}
	}
	return Character{}, false
}

// Location returns the location with the given id.
func (s *WorldState) Location(id string) (Location, bool) {
	for _, l := range s.Locations {
		if l.ID == id {
			return l, true
		}
	}
	return Location{}, false
}

// ItemByName returns the index of the stack whose name matches
// case-insensitively, or -1.
func (s *WorldState) ItemByName(name string) int {
	for i, it := range s.Inventory {
		if strings.EqualFold(it.Name, name) {
			return i
		}
	}
	return -1
}

// HasEncountered reports whether the player has met the NPC.
func (s *WorldState) HasEncountered(npcID string) bool {
	return slices.Contains(s.EncounteredNPCIDs, npcID)
}

// Check verifies the invariants every published snapshot must hold.
func (s *WorldState) Check() error {
	if err := uniqueIDs("npc", len(s.NPCs), func(i int) string { return s.NPCs[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("location", len(s.Locations), func(i int) string { return s.Locations[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("item", len(s.Inventory), func(i int) string { return s.Inventory[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("technique", len(s.Techniques), func(i int) string { return s.Techniques[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("effect", len(s.ActiveEffects), func(i int) string { return s.ActiveEffects[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("quest", len(s.Quests), func(i int) string { return s.Quests[i].ID }); err != nil {
		return err
	}
	if err := uniqueIDs("encountered npc", len(s.EncounteredNPCIDs), func(i int) string { return s.EncounteredNPCIDs[i] }); err != nil {
		return err
	}
	for _, it := range s.Inventory {
		if it.Quantity <= 0 {
			return fmt.Errorf("item %s has quantity %d", it.ID, it.Quantity)
		}
	}
	chars := append([]Character{s.Player}, s.NPCs...)
	for _, c := range chars {
		for name, a := range c.Attributes {
			if a.Value < 0 {
				return fmt.Errorf("%s.%s is negative (%d)", c.ID, name, a.Value)
			}
			if a.Max != nil && a.Value > *a.Max {
				return fmt.Errorf("%s.%s exceeds max (%d > %d)", c.ID, name, a.Value, *a.Max)
			}
		}
	}
	for id, turns := range s.Cooldowns {
		if turns < 0 {
			return fmt.Errorf("cooldown %s is negative", id)
		}
	}
	return nil
}

func uniqueIDs(kind string, n int, id func(int) string) error {
	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		k := id(i)
		if _, dup := seen[k]; dup {
			return fmt.Errorf("duplicate %s id %q", kind, k)
		}
		seen[k] = struct{}{}
	}
	return nil
}
