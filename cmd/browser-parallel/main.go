// Command browser-parallel fans a glob of test files out round-robin
// across N freshly spawned browserd peer daemons and reports aggregated
// pass/fail/error counts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/browserd/browserd/internal/orchestrator"
)

var (
	pattern           string
	instances         int
	continueOnFailure bool
	baseBrowserPort   int
	baseVitePort      int
	perTestTimeout    time.Duration
	browserdBinary    string
	testRunner        string
	noTUI             bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browser-parallel",
		Short: "Run a glob of browser tests across N parallel browserd instances",
		RunE:  runParallel,
	}
	cmd.Flags().StringVar(&pattern, "pattern", "**/*.test.js", "glob pattern for discovering test files")
	cmd.Flags().IntVar(&instances, "instances", 2, "number of peer browserd instances to spawn")
	cmd.Flags().BoolVar(&continueOnFailure, "continue-on-failure", true, "keep an instance's queue running after a failing test")
	cmd.Flags().IntVar(&baseBrowserPort, "base-browser-port", 4000, "first browserd TCP port; subsequent instances increment from here")
	cmd.Flags().IntVar(&baseVitePort, "base-vite-port", 5173, "first Vite dev-server port handed to each instance")
	cmd.Flags().DurationVar(&perTestTimeout, "per-test-timeout", 60*time.Second, "timeout for a single test file")
	cmd.Flags().StringVar(&browserdBinary, "browserd-binary", "browserd", "path to the browserd binary to spawn as peers")
	cmd.Flags().StringVar(&testRunner, "test-runner", "node", "executable used to run each discovered test file")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "print a final summary instead of a live progress table")
	return cmd
}

func runParallel(cmd *cobra.Command, args []string) error {
	tests, err := orchestrator.DiscoverTests(pattern)
	if err != nil {
		return err
	}
	if len(tests) == 0 {
		fmt.Fprintf(os.Stderr, "no test files matched %q\n", pattern)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	abort := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(abort)
	}()

	opts := orchestrator.Options{
		BrowserdBinary:    browserdBinary,
		TestRunner:        testRunner,
		Tests:             tests,
		Instances:         instances,
		BaseBrowserPort:   baseBrowserPort,
		BaseVitePort:      baseVitePort,
		PerTestTimeout:    perTestTimeout,
		ContinueOnFailure: continueOnFailure,
		Abort:             abort,
	}

	if noTUI {
		return runHeadless(ctx, opts)
	}
	return runWithTUI(ctx, opts)
}

func runHeadless(ctx context.Context, opts orchestrator.Options) error {
	opts.OnResult = func(r orchestrator.TestResult) {
		status := "PASS"
		switch {
		case r.Errored:
			status = "ERROR"
		case !r.Passed:
			status = "FAIL"
		}
		fmt.Printf("[%s] %-6s %s (%dms)\n", r.InstanceID, status, r.Path, r.DurationMS)
	}
	summary, err := orchestrator.Run(ctx, opts)
	if err != nil {
		return err
	}
	fmt.Printf("\npassed=%d failed=%d errors=%d passRate=%.2f\n",
		summary.Passed, summary.Failed, summary.Errors, summary.PassRate)
	return nil
}

func runWithTUI(ctx context.Context, opts orchestrator.Options) error {
	allocs, err := orchestrator.AllocatePorts(opts.Instances, opts.BaseBrowserPort, opts.BaseVitePort)
	if err != nil {
		return err
	}
	instanceIDs := make([]string, len(allocs))
	for i, a := range allocs {
		instanceIDs[i] = a.InstanceID
	}

	resultCh := make(chan resultMsg, 64)
	doneCh := make(chan doneMsg, 1)

	opts.OnResult = func(r orchestrator.TestResult) { resultCh <- resultMsg(r) }

	go func() {
		summary, err := orchestrator.Run(ctx, opts)
		close(resultCh)
		doneCh <- doneMsg{summary: summary, err: err}
	}()

	model := newProgressModel(instanceIDs, len(opts.Tests), resultCh, doneCh)
	program := tea.NewProgram(model)
	finalModel, err := program.Run()
	if err != nil {
		return err
	}
	final := finalModel.(progressModel)
	if final.err != nil {
		return final.err
	}
	return nil
}
