package migrate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tatianab/chronicle/internal/models"
)

// Version 1 is the original flat session: a world block, a state block with
// string stats and a string inventory, and locations keyed by name.
// Version 2 introduced entities with ids. Version 3 renamed most fields and
// introduced the calendar. Version 4 is the current model.

// upgradeV1 turns the flat session into entities with ids.
func upgradeV1(doc models.RawDocument) models.RawDocument {
	out := models.RawDocument{"version": 2}
	if w, ok := asMap(doc["world"]); ok {
		out["world"] = w
	}
	if h, ok := asMap(doc["history"]); ok {
		out["history"] = h
	}

	state := getMap(doc, "state")
	if state == nil {
		// Early saves wrote the state fields at the top level.
		state = doc
	}

	locations, byName := upgradeLocationsV1(doc["locations"])
	var npcs []any
	seenNPC := map[string]bool{}
	for _, l := range sortedLocationsV1(doc["locations"]) {
		locID := byName[strings.ToLower(getString(l, "name"))]
		for _, p := range getSlice(l, "people") {
			name, ok := asString(p)
			if !ok || strings.TrimSpace(name) == "" {
				continue
			}
			id := slug(name)
			if id == "" || seenNPC[id] {
				continue
			}
			seenNPC[id] = true
			npcs = append(npcs, map[string]any{"id": id, "name": name, "location": locID, "stats": map[string]any{}})
		}
	}
	out["npcs"] = nonNil(npcs)

	if cur := getString(state, "current_location"); cur != "" {
		id, ok := byName[strings.ToLower(cur)]
		if !ok {
			id = slug(cur)
			if id == "" {
				id = fmt.Sprintf("location-%d", len(locations)+1)
			}
			locations = append(locations, map[string]any{"id": id, "name": cur, "description": "", "objects": []any{}})
		}
		out["current_location_id"] = id
	}
	out["locations"] = nonNil(locations)

	if hasPlayerV1(state) {
		stats := map[string]any{}
		maxStats := map[string]any{}
		notes := map[string]any{}
		for k, v := range getMap(state, "stats") {
			if n, ok := asNumber(v); ok {
				stats[k] = n
			} else if s, ok := asString(v); ok {
				notes[k] = s
			}
		}
		for _, k := range []string{"health", "progress"} {
			raw, present := state[k]
			if !present {
				continue
			}
			if n, ok := asNumber(raw); ok {
				stats[k] = n
				maxStats[k] = 100
			} else if s, ok := asString(raw); ok && s != "" {
				notes[k] = s
			}
		}
		out["player"] = map[string]any{
			"id":        models.PlayerID,
			"name":      getString(state, "player_name"),
			"stats":     stats,
			"max_stats": maxStats,
			"notes":     notes,
			"skills":    []any{},
			"gold":      0,
		}
	}

	// Version 1 repeats a name once per unit held.
	var inv []any
	stacks := map[string]map[string]any{}
	for i, v := range getSlice(state, "inventory") {
		name, ok := asString(v)
		if !ok || strings.TrimSpace(name) == "" {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(name))
		if st, ok := stacks[key]; ok {
			st["qty"] = st["qty"].(int) + 1
			continue
		}
		st := map[string]any{"id": fmt.Sprintf("item-%d", i+1), "name": name, "qty": 1}
		stacks[key] = st
		inv = append(inv, st)
	}
	out["inventory"] = nonNil(inv)
	out["effects"] = []any{}
	out["quests"] = []any{}
	out["met_npcs"] = []any{}
	out["world_day"] = 0
	return out
}

func hasPlayerV1(state map[string]any) bool {
	for _, k := range []string{"inventory", "stats", "health", "progress", "current_location"} {
		if _, ok := state[k]; ok {
			return true
		}
	}
	return false
}

// sortedLocationsV1 accepts the name-keyed map written by version 1 and the
// list some hand-edited saves use, and returns a stable order.
func sortedLocationsV1(v any) []map[string]any {
	var out []map[string]any
	if m, ok := asMap(v); ok {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			l, ok := asMap(m[k])
			if !ok {
				continue
			}
			if getString(l, "name") == "" {
				l["name"] = k
			}
			out = append(out, l)
		}
		return out
	}
	for _, e := range getSliceValue(v) {
		if l, ok := asMap(e); ok {
			out = append(out, l)
		}
	}
	return out
}

func upgradeLocationsV1(v any) ([]any, map[string]string) {
	var out []any
	byName := map[string]string{}
	for i, l := range sortedLocationsV1(v) {
		name := getString(l, "name")
		id := slug(name)
		if id == "" {
			id = fmt.Sprintf("location-%d", i+1)
		}
		if _, dup := byName[strings.ToLower(name)]; dup {
			continue
		}
		byName[strings.ToLower(name)] = id
		out = append(out, map[string]any{
			"id":          id,
			"name":        name,
			"description": getString(l, "description"),
			"objects":     stringsOnly(getSlice(l, "objects")),
		})
	}
	return out, byName
}

// upgradeV2 renames fields to their current spelling, merges stats with their
// maximums and replaces the day counter with the calendar.
func upgradeV2(doc models.RawDocument) models.RawDocument {
	out := doc
	delete(out, "version")
	out["schema_version"] = 3

	if p, ok := asMap(out["player"]); ok {
		out["player"] = upgradeCharacterV2(p)
	}
	nameToID := map[string]string{}
	var npcs []any
	for _, v := range getSlice(out, "npcs") {
		n, ok := asMap(v)
		if !ok {
			continue
		}
		n = upgradeCharacterV2(n)
		rename(n, "location", "location_id")
		if id := getString(n, "id"); id != "" {
			nameToID[strings.ToLower(id)] = id
			if name := getString(n, "name"); name != "" {
				nameToID[strings.ToLower(name)] = id
			}
		}
		npcs = append(npcs, n)
	}
	out["npcs"] = nonNil(npcs)

	for _, v := range getSlice(out, "inventory") {
		it, ok := asMap(v)
		if !ok {
			continue
		}
		rename(it, "qty", "quantity")
		it["quantity"] = getInt(it, "quantity", 1)
	}

	var effects []any
	for _, v := range getSlice(out, "effects") {
		e, ok := asMap(v)
		if !ok {
			continue
		}
		rename(e, "target", "target_id")
		rename(e, "turns_left", "remaining")
		effects = append(effects, e)
	}
	delete(out, "effects")
	out["active_effects"] = nonNil(effects)

	day := getInt(out, "world_day", 0)
	delete(out, "world_day")
	turns := len(getSlice(getMap(out, "history"), "entries"))
	out["clock"] = map[string]any{
		"year":   day/models.DaysPerYear + 1,
		"season": (day % models.DaysPerYear) / models.DaysPerSeason,
		"day":    day % models.DaysPerSeason,
		"turn":   turns,
	}

	var met []any
	for _, v := range getSlice(out, "met_npcs") {
		s, ok := asString(v)
		if !ok {
			continue
		}
		if id, ok := nameToID[strings.ToLower(s)]; ok {
			s = id
		}
		met = append(met, s)
	}
	delete(out, "met_npcs")
	out["encountered_npc_ids"] = nonNil(met)

	for _, v := range getSlice(out, "quests") {
		q, ok := asMap(v)
		if !ok {
			continue
		}
		if getString(q, "status") == "done" {
			q["status"] = string(models.QuestCompleted)
		}
		for _, o := range getSlice(q, "objectives") {
			if om, ok := asMap(o); ok {
				rename(om, "target", "target_id")
			}
		}
	}

	if h := getMap(out, "history"); h != nil {
		for _, v := range getSlice(h, "entries") {
			e, ok := asMap(v)
			if !ok {
				continue
			}
			rename(e, "outcome", "narrative")
			rename(e, "explanations", "applied")
			delete(e, "changes")
			delete(e, "inventory")
			delete(e, "status")
		}
	}
	return out
}

func upgradeCharacterV2(c map[string]any) map[string]any {
	stats := getMap(c, "stats")
	maxStats := getMap(c, "max_stats")
	attrs := map[string]any{}
	for k, v := range stats {
		n, ok := asInt(v)
		if !ok {
			continue
		}
		a := map[string]any{"value": n}
		if m, ok := asInt(maxStats[k]); ok {
			a["max"] = m
		}
		attrs[k] = a
	}
	delete(c, "stats")
	delete(c, "max_stats")
	c["attributes"] = attrs
	rename(c, "notes", "traits")
	return c
}

// upgradeV3 moves equipment onto the player, turns skill names into
// techniques and gives quest rewards their own block.
func upgradeV3(doc models.RawDocument) models.RawDocument {
	out := doc
	out["schema_version"] = 4

	player, _ := asMap(out["player"])

	equipment := map[string]any{}
	for _, v := range getSlice(out, "inventory") {
		it, ok := asMap(v)
		if !ok || !getBool(it, "equipped") {
			continue
		}
		slot := getString(it, "slot")
		if slot == "" {
			continue
		}
		if _, taken := equipment[slot]; !taken {
			equipment[slot] = getString(it, "id")
		}
	}

	var techniques []any
	techByName := map[string]string{}
	if player != nil {
		player["equipment"] = equipment
		for _, v := range getSlice(player, "skills") {
			name, ok := asString(v)
			if !ok {
				if m, isMap := asMap(v); isMap {
					name = getString(m, "name")
				}
			}
			if strings.TrimSpace(name) == "" {
				continue
			}
			id := "tech-" + slug(name)
			techByName[strings.ToLower(name)] = id
			techniques = append(techniques, map[string]any{"id": id, "name": name, "description": "", "cooldown": 0})
		}
		delete(player, "skills")
		rename(player, "gold", "currency")
	}
	out["techniques"] = nonNil(techniques)

	for _, v := range getSlice(out, "npcs") {
		if n, ok := asMap(v); ok {
			rename(n, "gold", "currency")
		}
	}

	cooldowns := map[string]any{}
	for name, v := range getMap(out, "skill_cooldowns") {
		id, ok := techByName[strings.ToLower(name)]
		if !ok {
			id = "tech-" + slug(name)
		}
		cooldowns[id] = v
	}
	delete(out, "skill_cooldowns")
	if existing := getMap(out, "cooldowns"); existing != nil {
		for k, v := range existing {
			cooldowns[k] = v
		}
	}
	out["cooldowns"] = cooldowns

	for _, v := range getSlice(out, "quests") {
		q, ok := asMap(v)
		if !ok {
			continue
		}
		gold := getInt(q, "reward_gold", 0)
		delete(q, "reward_gold")
		if _, has := q["reward"]; !has {
			q["reward"] = map[string]any{"currency": gold, "items": []any{}}
		}
	}
	return out
}

func getSliceValue(v any) []any {
	s, _ := asSlice(v)
	return s
}

func stringsOnly(s []any) []any {
	out := []any{}
	for _, v := range s {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

func nonNil(s []any) []any {
	if s == nil {
		return []any{}
	}
	return s
}
