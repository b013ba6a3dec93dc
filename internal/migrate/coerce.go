package migrate

import (
	"fmt"
	"math"

	"github.com/tatianab/chronicle/internal/models"
)

// coerceScalars rewrites drifted values in the integer fields of a
// current-layout document so it decodes: numeric strings are parsed and
// fractions are rounded. Anything that is not a number is left alone and
// decoding reports the document as corrupted.
func coerceScalars(doc models.RawDocument, version int) []Repair {
	r := &repairer{}
	root := map[string]any(doc)
	if v, ok := root["schema_version"]; ok && !isWholeNumber(v) {
		r.note(passDefaults, "schema_version", "normalized %v to %d", v, version)
	}
	root["schema_version"] = version

	if p, ok := asMap(root["player"]); ok {
		r.coerceCharacter(p, "player")
	}
	eachMap(root, "npcs", func(i int, n map[string]any) {
		r.coerceCharacter(n, fmt.Sprintf("npcs[%d]", i))
	})
	eachMap(root, "inventory", func(i int, it map[string]any) {
		path := fmt.Sprintf("inventory[%d]", i)
		r.coerceInt(it, "quantity", path+".quantity")
		r.coerceIntMap(it, "bonuses", path+".bonuses")
	})
	eachMap(root, "techniques", func(i int, t map[string]any) {
		r.coerceInt(t, "cooldown", fmt.Sprintf("techniques[%d].cooldown", i))
	})
	eachMap(root, "active_effects", func(i int, e map[string]any) {
		path := fmt.Sprintf("active_effects[%d]", i)
		r.coerceInt(e, "remaining", path+".remaining")
		r.coerceIntMap(e, "bonuses", path+".bonuses")
	})
	eachMap(root, "quests", func(i int, q map[string]any) {
		path := fmt.Sprintf("quests[%d]", i)
		eachMap(q, "objectives", func(j int, o map[string]any) {
			r.coerceInt(o, "required", fmt.Sprintf("%s.objectives[%d].required", path, j))
			r.coerceInt(o, "current", fmt.Sprintf("%s.objectives[%d].current", path, j))
		})
		if rw, ok := asMap(q["reward"]); ok {
			r.coerceInt(rw, "currency", path+".reward.currency")
		}
	})
	r.coerceIntMap(root, "cooldowns", "cooldowns")
	if c, ok := asMap(root["clock"]); ok {
		for _, k := range []string{"year", "season", "day", "turn"} {
			r.coerceInt(c, k, "clock."+k)
		}
	}
	if h, ok := asMap(root["history"]); ok {
		eachMap(h, "entries", func(i int, e map[string]any) {
			r.coerceInt(e, "turn", fmt.Sprintf("history.entries[%d].turn", i))
		})
	}
	return r.repairs
}

func (r *repairer) coerceCharacter(c map[string]any, path string) {
	r.coerceInt(c, "currency", path+".currency")
	attrs, ok := asMap(c["attributes"])
	if !ok {
		return
	}
	for _, name := range sortedKeys(attrs) {
		if a, ok := asMap(attrs[name]); ok {
			for _, k := range []string{"value", "max", "bonus"} {
				r.coerceInt(a, k, path+".attributes."+name+"."+k)
			}
		}
	}
}

func (r *repairer) coerceIntMap(m map[string]any, key, path string) {
	inner, ok := asMap(m[key])
	if !ok {
		return
	}
	for _, k := range sortedKeys(inner) {
		r.coerceInt(inner, k, path+"."+k)
	}
}

func (r *repairer) coerceInt(m map[string]any, key, path string) {
	v, ok := m[key]
	if !ok || v == nil || isWholeNumber(v) {
		return
	}
	n, ok := asInt(v)
	if !ok {
		return
	}
	m[key] = n
	if s, isString := v.(string); isString {
		r.note(passDefaults, path, "parsed %q as %d", s, n)
		return
	}
	r.note(passBounds, path, "rounded %v to %d", v, n)
}

// isWholeNumber reports whether v is a number the decoder reads into an int
// as is.
func isWholeNumber(v any) bool {
	if _, isString := v.(string); isString {
		return false
	}
	f, ok := asNumber(v)
	return ok && f == math.Trunc(f) && math.Abs(f) < 1<<53
}

// eachMap calls fn for every element of m[key] that is a map.
func eachMap(m map[string]any, key string, fn func(int, map[string]any)) {
	for i, v := range getSlice(m, key) {
		if e, ok := asMap(v); ok {
			fn(i, e)
		}
	}
}
