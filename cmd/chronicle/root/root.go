package root

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

const Version = "0.4.0"

var (
	good  = lipgloss.NewStyle().Foreground(lipgloss.Color("#87D787"))
	warn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500"))
	bad   = lipgloss.NewStyle().Foreground(lipgloss.Color("#D78787")).Bold(true)
	muted = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "chronicle",
		Short:         "A narrative role-playing game with a persistent, versioned world",
		Long:          "Chronicle narrates your actions with a language model, turns the story into typed state changes and keeps the world consistent across sessions and schema versions.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")
	cmd.AddCommand(
		newPlayCmd(),
		newMigrateCmd(),
		newInspectCmd(),
		newSlotsCmd(),
		newDeleteCmd(),
		newRestoreCmd(),
	)
	return cmd
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, bad.Render("error: "+err.Error()))
		os.Exit(1)
	}
}
