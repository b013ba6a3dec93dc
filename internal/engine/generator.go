package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// Generator is the text service the engine talks to. Complete streams prose
// through onChunk (which may be nil) and returns the whole text once the
// stream ends. StructuredComplete returns JSON conforming to schema.
type Generator interface {
	Complete(ctx context.Context, prompt string, onChunk func(string)) (string, error)
	StructuredComplete(ctx context.Context, prompt string, schema *genai.Schema) ([]byte, error)
}

// Gemini is a Generator backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini connects to the Gemini API.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Gemini{client: client, model: model}, nil
}

// Client exposes the underlying client for callers that need their own model,
// like the simulator's player.
func (g *Gemini) Client() *genai.Client { return g.client }

func (g *Gemini) Close() error {
	return g.client.Close()
}

func (g *Gemini) Complete(ctx context.Context, prompt string, onChunk func(string)) (string, error) {
	model := g.client.GenerativeModel(g.model)
	if onChunk == nil {
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return "", err
		}
		return responseText(resp)
	}

	it := model.GenerateContentStream(ctx, genai.Text(prompt))
	var b strings.Builder
	for {
		resp, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", err
		}
		chunk, err := responseText(resp)
		if err != nil {
			continue
		}
		b.WriteString(chunk)
		onChunk(chunk)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no content returned from Gemini")
	}
	return b.String(), nil
}

func (g *Gemini) StructuredComplete(ctx context.Context, prompt string, schema *genai.Schema) ([]byte, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"
	model.ResponseSchema = schema

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, err
	}
	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}
	return []byte(text), nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content returned from Gemini")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("unexpected response type from Gemini")
	}
	return b.String(), nil
}

// DeltaResponseSchema is the response schema sent with extraction requests.
// It mirrors the raw delta JSON schema closely enough for the model to fill
// it; the JSON schema remains the authority.
func DeltaResponseSchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	integer := &genai.Schema{Type: genai.TypeInteger}

	kinds := []string{
		"item_gained", "technique_learned", "npc_first_encountered",
		"stat_changed", "effect_applied", "quest_started", "time_advanced",
	}
	item := &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"kind":     {Type: genai.TypeString, Enum: kinds},
			"modality": {Type: genai.TypeString, Enum: []string{"present", "memory", "hearsay", "dream", "hypothetical"}},
			"evidence": {Type: genai.TypeString, Description: "the sentence of the narrative this delta comes from"},
			"name":        str,
			"description": str,
			"quantity":    integer,
			"category":    str,
			"slot":        str,
			"bonuses": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: map[string]*genai.Schema{"attribute": str, "amount": integer},
					Required:   []string{"attribute", "amount"},
				},
			},
			"npc":       str,
			"target":    str,
			"attribute": str,
			"amount":    integer,
			"duration":  integer,
			"cooldown":  integer,
			"objectives": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type:       genai.TypeObject,
					Properties: map[string]*genai.Schema{"description": str, "target": str, "required": integer},
					Required:   []string{"description"},
				},
			},
			"reward_currency": integer,
			"reward_items":    {Type: genai.TypeArray, Items: str},
			"years":           integer,
			"seasons":         integer,
			"days":            integer,
		},
		Required: []string{"kind", "modality", "evidence"},
	}
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{"deltas": {Type: genai.TypeArray, Items: item}},
		Required:   []string{"deltas"},
	}
}
