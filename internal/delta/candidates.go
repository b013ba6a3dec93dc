package delta

import (
	"strings"

	"github.com/tatianab/chronicle/internal/models"
)

// Ref names an entity the narrative may mention.
type Ref struct {
	ID   string
	Name string
}

// Target is a character whose attributes a delta may touch.
type Target struct {
	Ref
	Attributes []string
}

// Candidates is the closed set of entities a turn may reference. Anything a
// raw delta names outside this set is rejected.
type Candidates struct {
	// Items the player can plausibly come to hold: inventory, objects at the
	// current location and rewards of active quests. Inventory names come
	// first so folding prefers the existing stack's spelling.
	Items []string
	// Techniques already known. Learning one of these again is rejected.
	Techniques []string
	// UnmetNPCs are the only NPCs a first encounter may resolve to.
	UnmetNPCs []Ref
	// Targets are the player and every NPC.
	Targets []Target
	// Places are objective targets: locations and NPCs.
	Places []Ref
}

// CandidatesFor derives the candidate set from a state.
func CandidatesFor(s models.WorldState) Candidates {
	var c Candidates
	seen := map[string]bool{}
	addItem := func(name string) {
		k := fold(name)
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		c.Items = append(c.Items, name)
	}
	for _, it := range s.Inventory {
		addItem(it.Name)
	}
	if loc, ok := s.Location(s.CurrentLocationID); ok {
		for _, o := range loc.Objects {
			addItem(o)
		}
	}
	for _, q := range s.Quests {
		if q.Status != models.QuestActive {
			continue
		}
		for _, it := range q.Reward.Items {
			addItem(it)
		}
	}

	for _, t := range s.Techniques {
		c.Techniques = append(c.Techniques, t.Name)
	}

	c.Targets = append(c.Targets, targetOf(s.Player))
	for _, n := range s.NPCs {
		c.Targets = append(c.Targets, targetOf(n))
		c.Places = append(c.Places, Ref{ID: n.ID, Name: n.Name})
		if !s.HasEncountered(n.ID) {
			c.UnmetNPCs = append(c.UnmetNPCs, Ref{ID: n.ID, Name: n.Name})
		}
	}
	for _, l := range s.Locations {
		c.Places = append(c.Places, Ref{ID: l.ID, Name: l.Name})
	}
	return c
}

func targetOf(ch models.Character) Target {
	t := Target{Ref: Ref{ID: ch.ID, Name: ch.Name}}
	for _, a := range sortedKeys(ch.Attributes) {
		t.Attributes = append(t.Attributes, a)
	}
	return t
}

// Item returns the canonical spelling of an item name.
func (c Candidates) Item(name string) (string, bool) {
	k := fold(name)
	for _, it := range c.Items {
		if fold(it) == k {
			return it, true
		}
	}
	return "", false
}

// KnowsTechnique reports whether a technique with this name is already known.
func (c Candidates) KnowsTechnique(name string) bool {
	k := fold(name)
	for _, t := range c.Techniques {
		if fold(t) == k {
			return true
		}
	}
	return false
}

// UnmetNPC resolves an id or name against the NPCs not yet met.
func (c Candidates) UnmetNPC(ref string) (Ref, bool) {
	return findRef(c.UnmetNPCs, ref)
}

// Target resolves an id or name; empty means the player.
func (c Candidates) Target(ref string) (Target, bool) {
	if strings.TrimSpace(ref) == "" || fold(ref) == "player" {
		ref = models.PlayerID
	}
	k := fold(ref)
	for _, t := range c.Targets {
		if fold(t.ID) == k {
			return t, true
		}
	}
	for _, t := range c.Targets {
		if fold(t.Name) == k {
			return t, true
		}
	}
	return Target{}, false
}

// Place resolves an objective target to an NPC or location id.
func (c Candidates) Place(ref string) (string, bool) {
	r, ok := findRef(c.Places, ref)
	return r.ID, ok
}

// Attribute returns the canonical attribute name on the target.
func (t Target) Attribute(name string) (string, bool) {
	k := strings.ReplaceAll(fold(name), " ", "_")
	for _, a := range t.Attributes {
		if strings.ReplaceAll(fold(a), " ", "_") == k {
			return a, true
		}
	}
	return "", false
}

func findRef(refs []Ref, ref string) (Ref, bool) {
	k := fold(ref)
	if k == "" {
		return Ref{}, false
	}
	for _, r := range refs {
		if fold(r.ID) == k {
			return r, true
		}
	}
	for _, r := range refs {
		if fold(r.Name) == k {
			return r, true
		}
	}
	return Ref{}, false
}

// fold normalises a name for comparison: case, surrounding space and a
// leading article are ignored.
func fold(s string) string {
	s = strings.ToLower(strings.Join(strings.Fields(s), " "))
	for _, article := range []string{"the ", "a ", "an "} {
		if rest, ok := strings.CutPrefix(s, article); ok {
			return rest
		}
	}
	return s
}
