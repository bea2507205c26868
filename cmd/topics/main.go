package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// globals are the flags shared by every command.
type globals struct {
	profile string
	socket  string
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "topics",
		Short:         "Topic graph editor client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.profile, "profile", "./_dev_profile", "Profile directory")
	root.PersistentFlags().StringVar(&g.socket, "socket", "", "Override socket path")

	root.AddCommand(
		newInitCmd(g),
		newVersionCmd(),
		newPingCmd(g),
		newTreeCmd(g),
		newInheritedCmd(g),
		newSelectCmd(g),
		newApplyCmd(g),
		newExportCmd(g),
		newImportCmd(g),
		newVersionsCmd(g),
		newWatchCmd(g),
		newSnapshotCmd(g),
		newDiagCmd(g),
		newRemoteCmd(g),
		newVCSCmd(g),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "topics %s\n", version)
			return nil
		},
	}
}
