package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tatianab/chronicle/internal/engine"
	"github.com/tatianab/chronicle/internal/models"
)

func newMigrateCmd() *cobra.Command {
	var dryRun, verbose bool
	cmd := &cobra.Command{
		Use:   "migrate <slot>",
		Short: "Upgrade a slot to the current schema and repair it",
		Long: `Upgrade a saved world to the current schema version and run the repair
passes over it.

Every repair is listed. Unless --dry-run is given the upgraded document is
written back and the previous one is kept as the slot's last good snapshot.
Running migrate twice is harmless: the second run changes nothing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(cmd.ErrOrStderr(), verbose)
			if err != nil {
				return err
			}
			defer e.cleanup()

			slot := args[0]
			raw, err := e.store.Load(ctx, slot)
			if err != nil {
				return err
			}
			state, report, err := e.migrator().Migrate(raw)
			if err != nil {
				return fmt.Errorf("%w [%s]", err, engine.CodeOf(err))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: schema v%d -> v%d, %d repairs\n", slot, report.FromVersion, report.ToVersion, len(report.Repairs))
			for _, r := range report.Repairs {
				fmt.Fprintln(out, muted.Render("  "+r.String()))
			}
			if !report.Changed() {
				fmt.Fprintln(out, good.Render("already current"))
				return nil
			}
			if dryRun {
				fmt.Fprintln(out, warn.Render("dry run: nothing written"))
				return nil
			}

			doc, err := models.ToRaw(state)
			if err != nil {
				return err
			}
			if err := e.store.Save(ctx, slot, doc); err != nil {
				return err
			}
			fmt.Fprintln(out, good.Render("migrated"))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log every step")
	return cmd
}
