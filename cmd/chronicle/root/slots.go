package root

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tatianab/chronicle/internal/store"
)

func newSlotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slots",
		Short: "List saved worlds",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer e.cleanup()

			slots, err := e.store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(slots) == 0 {
				fmt.Fprintln(out, muted.Render("no saved worlds"))
				return nil
			}
			for _, s := range slots {
				line := fmt.Sprintf("%-24s %s", s.Slot, s.UpdatedAt.Local().Format(time.DateTime))
				if s.HasLastGood {
					line += muted.Render("  (restorable)")
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <slot>",
		Short: "Delete a saved world and its last good snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer e.cleanup()

			if err := e.store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), warn.Render("deleted "+args[0]))
			return nil
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <slot>",
		Short: "Swap a slot back to its last good snapshot",
		Long: `Make the slot's last good snapshot current again.

The document being replaced becomes the new last good snapshot, so running
restore twice undoes itself.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer e.cleanup()

			if err := store.Restore(cmd.Context(), e.store, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), good.Render("restored "+args[0]))
			return nil
		},
	}
}
