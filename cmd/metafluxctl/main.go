package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "metafluxctl",
		Short: "Search reaction deactivation patterns that improve a metabolic objective",
		Long: `metafluxctl samples feasible starting solutions, evolves reaction
deactivation vectors against an external LP/NLP oracle, and refines the best
result by local activation switches.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newOptimizeCmd(),
		newPostprocessCmd(),
		newRunsCmd(),
		newShowCmd(),
		newExportCmd(),
		newInspectScratchCmd(),
		newStrategiesCmd(),
	)
	return root
}
