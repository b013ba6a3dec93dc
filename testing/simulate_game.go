package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"

	"github.com/tatianab/chronicle/internal/config"
	"github.com/tatianab/chronicle/internal/engine"
	"github.com/tatianab/chronicle/internal/models"
	"github.com/tatianab/chronicle/internal/store"
)

func main() {
	maxTurns := flag.Int("turns", 10, "number of turns to play")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		log.Fatal(err)
	}
	limits, err := cfg.Limits()
	if err != nil {
		log.Fatalf("Failed to load limits: %v", err)
	}

	// The Game Master and the player share one client.
	gen, err := engine.NewGemini(ctx, cfg.GeminiAPIKey, cfg.Model)
	if err != nil {
		log.Fatalf("Failed to create GM engine: %v", err)
	}
	defer gen.Close()
	playerModel := gen.Client().GenerativeModel(cfg.Model)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	eng := engine.New(engine.Options{
		Store:         store.NewMemoryStore(),
		Generator:     gen,
		Limits:        &limits,
		HistoryWindow: cfg.HistoryWindow,
		Logger:        logger,
	})

	// 1. Get a theme from the Player LLM
	fmt.Println("--- Step 1: Requesting a theme from the Player LLM ---")
	themePrompt := "You are a player about to start a text-based adventure game. Provide a short, creative hint for a game theme (e.g., 'steampunk underwater city', 'noir detective in a world of cats'). Return ONLY the theme string."
	theme, err := ask(ctx, playerModel, themePrompt)
	if err != nil {
		log.Fatalf("Failed to get theme: %v", err)
	}
	fmt.Printf("Player chose theme: %s\n\n", theme)

	// 2. Generate the world
	fmt.Println("--- Step 2: Generating World ---")
	sess, err := eng.Create(ctx, "simulation", theme)
	if err != nil {
		log.Fatalf("Failed to generate world: %v", err)
	}
	state := sess.State()
	fmt.Printf("Title: %s\n", state.World.Title)
	fmt.Printf("Initial Description: %s\n\n", state.World.Description)

	// 3. Play the game
	applied, rejected := 0, 0
	for turn := 1; turn <= *maxTurns; turn++ {
		fmt.Printf("--- Turn %d ---\n", turn)

		action, err := ask(ctx, playerModel, playerPrompt(sess.State()))
		if err != nil || action == "" {
			action = "look around"
		}
		fmt.Printf("Player Action: %s\n", action)

		out, err := sess.ProcessTurn(ctx, action, nil)
		if err != nil {
			fmt.Printf("Error processing turn: %v [%s]\n", err, engine.CodeOf(err))
			break
		}
		fmt.Printf("GM Outcome: %s\n", out.Narrative)
		for _, d := range out.AppliedDescriptions() {
			fmt.Printf("Applied: %s\n", d)
		}
		for _, r := range out.RejectedReasons() {
			fmt.Printf("Rejected: %s\n", r)
		}
		for _, q := range out.Completed {
			fmt.Printf("QUEST COMPLETED: %s\n", q)
		}
		applied += len(out.Applied)
		rejected += len(out.Discarded) + len(out.Rejected)

		s := out.State
		fmt.Printf("State: %s, %s, inventory=%d items\n\n", s.Clock, attributeLine(s.Player), len(s.Inventory))

		if h, ok := s.Player.Attributes["health"]; ok && h.Effective() == 0 {
			fmt.Println("Game Ended: Player Lost!")
			break
		}
	}
	fmt.Printf("Deltas applied: %d, rejected: %d\n", applied, rejected)
}

func ask(ctx context.Context, model *genai.GenerativeModel, prompt string) (string, error) {
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content returned")
	}
	return strings.TrimSpace(fmt.Sprintf("%v", resp.Candidates[0].Content.Parts[0])), nil
}

func playerPrompt(s models.WorldState) string {
	historyText := ""
	for _, entry := range s.History.Entries {
		historyText += fmt.Sprintf("Action: %s\nOutcome: %s\n", entry.PlayerAction, entry.Narrative)
	}
	var items []string
	for _, it := range s.Inventory {
		items = append(items, it.Name)
	}
	loc, _ := s.Location(s.CurrentLocationID)

	return fmt.Sprintf(`You are playing a text-based adventure game.
World: %s
Current Location: %s
Inventory: %v
Stats: %s

History:
%s

What is your next action? Be creative but stay within the world's logic. Return ONLY the action string, no extra commentary.`,
		s.World.Description,
		loc.Name,
		items,
		attributeLine(s.Player),
		historyText,
	)
}

func attributeLine(c models.Character) string {
	var parts []string
	for name, a := range c.Attributes {
		parts = append(parts, fmt.Sprintf("%s=%d", name, a.Effective()))
	}
	return strings.Join(parts, " ")
}
