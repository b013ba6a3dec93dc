package engine

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/tatianab/chronicle/internal/delta"
	"github.com/tatianab/chronicle/internal/models"
)

//go:embed prompts/generate_world.txt
var generateWorldPrompt string

//go:embed prompts/narrate_turn.txt
var narrateTurnPrompt string

//go:embed prompts/extract_deltas.txt
var extractDeltasPrompt string

//go:embed prompts/summarize_history.txt
var summarizeHistoryPrompt string

var promptFuncs = template.FuncMap{"join": strings.Join}

var (
	generateWorldTmpl    = template.Must(template.New("generate_world").Funcs(promptFuncs).Parse(generateWorldPrompt))
	narrateTurnTmpl      = template.Must(template.New("narrate_turn").Funcs(promptFuncs).Parse(narrateTurnPrompt))
	extractDeltasTmpl    = template.Must(template.New("extract_deltas").Funcs(promptFuncs).Parse(extractDeltasPrompt))
	summarizeHistoryTmpl = template.Must(template.New("summarize_history").Funcs(promptFuncs).Parse(summarizeHistoryPrompt))
)

func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

type narrateData struct {
	World      models.World
	Clock      string
	Location   models.Location
	Present    []string
	Player     models.Character
	Attributes string
	Inventory  []string
	Techniques []string
	Effects    []string
	Quests     []string
	Summary    string
	Entries    []models.HistoryEntry
	Action     string
}

func narratePrompt(s models.WorldState, action string, recent int) (string, error) {
	loc, _ := s.Location(s.CurrentLocationID)
	data := narrateData{
		World:      s.World,
		Clock:      s.Clock.String(),
		Location:   loc,
		Player:     s.Player,
		Attributes: formatAttributes(s.Player.Attributes),
		Summary:    s.History.Summary,
		Entries:    tail(s.History.Entries, recent),
		Action:     action,
	}
	for _, n := range s.NPCs {
		if n.LocationID != "" && n.LocationID == s.CurrentLocationID {
			data.Present = append(data.Present, n.Name)
		}
	}
	for _, it := range s.Inventory {
		data.Inventory = append(data.Inventory, fmt.Sprintf("%s x%d", it.Name, it.Quantity))
	}
	for _, t := range s.Techniques {
		name := t.Name
		if cd := s.Cooldowns[t.ID]; cd > 0 {
			name = fmt.Sprintf("%s (ready in %d turns)", t.Name, cd)
		}
		data.Techniques = append(data.Techniques, name)
	}
	for _, e := range s.ActiveEffects {
		if e.TargetID != s.Player.ID {
			continue
		}
		if e.Permanent() {
			data.Effects = append(data.Effects, e.Name)
		} else {
			data.Effects = append(data.Effects, fmt.Sprintf("%s (%d turns left)", e.Name, e.Remaining))
		}
	}
	for _, q := range s.Quests {
		if q.Status != models.QuestActive {
			continue
		}
		var open []string
		for _, o := range q.Objectives {
			if !o.Done {
				open = append(open, o.Description)
			}
		}
		data.Quests = append(data.Quests, fmt.Sprintf("%s: %s", q.Title, strings.Join(open, ", ")))
	}
	return render(narrateTurnTmpl, data)
}

type extractData struct {
	Narrative  string
	Items      []string
	Techniques []string
	UnmetNPCs  []string
	Targets    []string
	Places     []string
}

func extractPrompt(narrative string, c delta.Candidates) (string, error) {
	data := extractData{
		Narrative:  narrative,
		Items:      c.Items,
		Techniques: c.Techniques,
	}
	for _, n := range c.UnmetNPCs {
		data.UnmetNPCs = append(data.UnmetNPCs, n.Name)
	}
	for _, t := range c.Targets {
		data.Targets = append(data.Targets, fmt.Sprintf("%s (%s): %s", t.Name, t.ID, strings.Join(t.Attributes, ", ")))
	}
	for _, p := range c.Places {
		data.Places = append(data.Places, p.Name)
	}
	return render(extractDeltasTmpl, data)
}

func formatAttributes(attrs map[string]models.Attribute) string {
	names := make([]string, 0, len(attrs))
	for k := range attrs {
		names = append(names, k)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, k := range names {
		a := attrs[k]
		p := fmt.Sprintf("%s %d", k, a.Effective())
		if a.Max != nil {
			p += fmt.Sprintf("/%d", *a.Max)
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

func tail[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// trimFence strips a markdown code fence the model sometimes wraps its
// answer in.
func trimFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[i+1:]
	}
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
