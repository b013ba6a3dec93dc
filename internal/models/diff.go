package models

import (
	"fmt"
	"sort"
)

// Diff lists human readable changes between two snapshots of the same world.
// It is what the play screen highlights after a turn.
func Diff(before, after WorldState) []string {
	var out []string

	out = append(out, diffAttributes(before.Player, after.Player)...)

	was := make(map[string]ItemStack, len(before.Inventory))
	for _, it := range before.Inventory {
		was[it.ID] = it
	}
	now := make(map[string]struct{}, len(after.Inventory))
	for _, it := range after.Inventory {
		now[it.ID] = struct{}{}
		prev, ok := was[it.ID]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("gained %s x%d", it.Name, it.Quantity))
		case prev.Quantity != it.Quantity:
			out = append(out, fmt.Sprintf("%s %d -> %d", it.Name, prev.Quantity, it.Quantity))
		}
	}
	for _, it := range before.Inventory {
		if _, ok := now[it.ID]; !ok {
			out = append(out, fmt.Sprintf("lost %s", it.Name))
		}
	}

	out = append(out, diffByID("effect", before.ActiveEffects, after.ActiveEffects, func(e Effect) (string, string) { return e.ID, e.Name })...)
	out = append(out, diffByID("technique", before.Techniques, after.Techniques, func(t Technique) (string, string) { return t.ID, t.Name })...)

	prevQuest := make(map[string]QuestStatus, len(before.Quests))
	for _, q := range before.Quests {
		prevQuest[q.ID] = q.Status
	}
	for _, q := range after.Quests {
		st, ok := prevQuest[q.ID]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("quest started: %s", q.Title))
		case st != q.Status:
			out = append(out, fmt.Sprintf("quest %s: %s", q.Status, q.Title))
		}
	}

	for _, id := range after.EncounteredNPCIDs {
		if !before.HasEncountered(id) {
			name := id
			if n, ok := after.NPC(id); ok {
				name = n.Name
			}
			out = append(out, fmt.Sprintf("met %s", name))
		}
	}

	if before.Clock.TotalDays() != after.Clock.TotalDays() {
		out = append(out, fmt.Sprintf("time passes: %s", after.Clock))
	}
	return out
}

func diffAttributes(before, after Character) []string {
	names := make([]string, 0, len(after.Attributes))
	for name := range after.Attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []string
	for _, name := range names {
		a := after.Attributes[name]
		b, ok := before.Attributes[name]
		if !ok || b.Effective() != a.Effective() {
			out = append(out, fmt.Sprintf("%s %d -> %d", name, b.Effective(), a.Effective()))
		}
	}
	return out
}

func diffByID[T any](kind string, before, after []T, key func(T) (string, string)) []string {
	prev := make(map[string]struct{}, len(before))
	for _, v := range before {
		id, _ := key(v)
		prev[id] = struct{}{}
	}
	next := make(map[string]struct{}, len(after))
	var out []string
	for _, v := range after {
		id, name := key(v)
		next[id] = struct{}{}
		if _, ok := prev[id]; !ok {
			out = append(out, fmt.Sprintf("new %s: %s", kind, name))
		}
	}
	for _, v := range before {
		id, name := key(v)
		if _, ok := next[id]; !ok {
			out = append(out, fmt.Sprintf("%s ended: %s", kind, name))
		}
	}
	return out
}
