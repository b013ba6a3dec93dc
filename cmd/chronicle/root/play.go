package root

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tatianab/chronicle/internal/engine"
	"github.com/tatianab/chronicle/internal/store"
	"github.com/tatianab/chronicle/internal/tui"
)

func newPlayCmd() *cobra.Command {
	var slot, hint string
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play a world, creating it first if the slot is empty",
		Long: `Open the play screen on a slot.

An existing slot is migrated to the current schema before play starts. An
empty slot gets a freshly generated world, seeded by --hint or by a hint you
type on the first screen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(nil, true)
			if err != nil {
				return err
			}
			defer e.cleanup()
			if err := e.cfg.RequireAPIKey(); err != nil {
				return err
			}
			if err := store.ValidSlot(slot); err != nil {
				return err
			}
			limits, err := e.cfg.Limits()
			if err != nil {
				return err
			}

			gen, err := engine.NewGemini(ctx, e.cfg.GeminiAPIKey, e.cfg.Model)
			if err != nil {
				return fmt.Errorf("connect to Gemini: %w", err)
			}
			defer gen.Close()

			eng := engine.New(engine.Options{
				Store:         e.store,
				Generator:     gen,
				Migrator:      e.migrator(),
				Limits:        &limits,
				HistoryWindow: e.cfg.HistoryWindow,
				Logger:        e.logger,
			})

			sess, report, err := eng.Open(ctx, slot)
			switch {
			case errors.Is(err, store.ErrNotFound):
				if hint != "" {
					fmt.Fprintln(cmd.OutOrStdout(), muted.Render("Generating your world... please wait."))
					if sess, err = eng.Create(ctx, slot, hint); err != nil {
						return err
					}
				}
			case err != nil:
				return fmt.Errorf("open slot %s: %w [%s]", slot, err, engine.CodeOf(err))
			case report.Changed():
				e.logger.Info("slot upgraded before play", "slot", slot, "from", report.FromVersion, "repairs", len(report.Repairs))
			}

			return tui.Run(ctx, eng, slot, sess)
		},
	}
	cmd.Flags().StringVar(&slot, "slot", "main", "save slot to play")
	cmd.Flags().StringVar(&hint, "hint", "", "world hint used when the slot is empty")
	return cmd
}
