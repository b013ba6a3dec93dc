package root

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tatianab/chronicle/internal/engine"
)

func newInspectCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "inspect <slot>",
		Short: "Print a slot as it reads after migration",
		Long:  "Print a saved world after upgrading and repairing it in memory. The slot itself is not modified.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer e.cleanup()

			raw, err := e.store.Load(ctx, args[0])
			if err != nil {
				return err
			}
			state, _, err := e.migrator().Migrate(raw)
			if err != nil {
				return fmt.Errorf("%w [%s]", err, engine.CodeOf(err))
			}

			var out []byte
			switch format {
			case "yaml":
				out, err = yaml.Marshal(state)
			case "json":
				out, err = json.MarshalIndent(state, "", "  ")
				out = append(out, '\n')
			default:
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml or json")
	return cmd
}
