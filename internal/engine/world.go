package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/tatianab/chronicle/internal/models"
)

// generatedWorld is the YAML shape the world prompt asks for.
type generatedWorld struct {
	World  models.World `yaml:"world"`
	Player struct {
		Name       string                        `yaml:"name"`
		Title      string                        `yaml:"title"`
		Currency   int                           `yaml:"currency"`
		Attributes map[string]generatedAttribute `yaml:"attributes"`
	} `yaml:"player"`
	NPCs []struct {
		Name       string                        `yaml:"name"`
		Title      string                        `yaml:"title"`
		Location   string                        `yaml:"location"`
		Attributes map[string]generatedAttribute `yaml:"attributes"`
	} `yaml:"npcs"`
	Locations []struct {
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Objects     []string `yaml:"objects"`
	} `yaml:"locations"`
	StartLocation string `yaml:"start_location"`
	Quest         *struct {
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		Objectives  []struct {
			Description string `yaml:"description"`
			Target      string `yaml:"target"`
		} `yaml:"objectives"`
		Reward models.Reward `yaml:"reward"`
	} `yaml:"quest"`
}

type generatedAttribute struct {
	Value int  `yaml:"value"`
	Max   *int `yaml:"max"`
}

// GenerateWorld asks the generator for a new world and returns it as a
// current-version state. The result goes through the migrator so generated
// worlds get the same repairs as loaded ones.
func (e *Engine) GenerateWorld(ctx context.Context, hint string) (models.WorldState, error) {
	if strings.TrimSpace(hint) == "" {
		hint = "random"
	}
	prompt, err := render(generateWorldTmpl, struct{ Hint string }{Hint: hint})
	if err != nil {
		return models.WorldState{}, err
	}
	text, err := e.gen.Complete(ctx, prompt, nil)
	if err != nil {
		return models.WorldState{}, oops.In("engine").Wrapf(err, "generate world")
	}

	clean := trimFence(text)
	var gw generatedWorld
	if err := yaml.Unmarshal([]byte(clean), &gw); err != nil {
		return models.WorldState{}, oops.In("engine").With("output", clean).Wrapf(err, "parse generated world")
	}

	doc, err := models.ToRaw(e.buildWorld(gw))
	if err != nil {
		return models.WorldState{}, err
	}
	s, report, err := e.migrator.Migrate(doc)
	if err != nil {
		return models.WorldState{}, fmt.Errorf("generated world is unusable: %w", err)
	}
	if len(report.Repairs) > 0 {
		e.logger.Info("repaired generated world", "repairs", len(report.Repairs))
	}
	return s, nil
}

func (e *Engine) buildWorld(gw generatedWorld) models.WorldState {
	s := models.WorldState{
		SchemaVersion: models.CurrentSchemaVersion,
		World:         gw.World,
		Player: models.Character{
			ID:         models.PlayerID,
			Name:       gw.Player.Name,
			Title:      gw.Player.Title,
			Currency:   gw.Player.Currency,
			Attributes: attributes(gw.Player.Attributes),
		},
		Clock: models.Clock{Year: 1},
	}

	// Names are how the model cross-references; ids are ours.
	ids := map[string]string{}
	for _, l := range gw.Locations {
		if l.Name == "" {
			continue
		}
		id := e.reducer.NewID("loc")
		ids[strings.ToLower(l.Name)] = id
		s.Locations = append(s.Locations, models.Location{ID: id, Name: l.Name, Description: l.Description, Objects: l.Objects})
	}
	for _, n := range gw.NPCs {
		if n.Name == "" {
			continue
		}
		id := e.reducer.NewID("npc")
		ids[strings.ToLower(n.Name)] = id
		s.NPCs = append(s.NPCs, models.Character{
			ID:         id,
			Name:       n.Name,
			Title:      n.Title,
			Attributes: attributes(n.Attributes),
			LocationID: ids[strings.ToLower(n.Location)],
		})
	}

	s.CurrentLocationID = ids[strings.ToLower(gw.StartLocation)]
	if s.CurrentLocationID == "" && len(s.Locations) > 0 {
		s.CurrentLocationID = s.Locations[0].ID
	}
	s.Player.LocationID = s.CurrentLocationID

	if q := gw.Quest; q != nil && q.Title != "" {
		quest := models.Quest{
			ID:          e.reducer.NewID("quest"),
			Title:       q.Title,
			Description: q.Description,
			Status:      models.QuestActive,
			Reward:      q.Reward,
		}
		for _, o := range q.Objectives {
			quest.Objectives = append(quest.Objectives, models.Objective{
				Description: o.Description,
				TargetID:    ids[strings.ToLower(o.Target)],
				Required:    1,
			})
		}
		s.Quests = append(s.Quests, quest)
	}
	s.Normalize()
	return s
}

func attributes(in map[string]generatedAttribute) map[string]models.Attribute {
	out := make(map[string]models.Attribute, len(in))
	for k, a := range in {
		out[strings.ToLower(strings.TrimSpace(k))] = models.Attribute{Value: a.Value, Max: a.Max}
	}
	return out
}
