// Command browserd is the daemon process: one instance owns one browser
// and serves the framed TCP wire protocol described by internal/browrpc
// and internal/transport. Flags mirror spec.md's Daemon Entry Flow:
// instance ID and port can come from BROWSER_INSTANCE/BROWSER_PORT or be
// overridden on the command line, and --session-id enables session-scoped
// close.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/browserd/browserd/internal/config"
	"github.com/browserd/browserd/internal/manager"
	"github.com/browserd/browserd/internal/state"
	"github.com/browserd/browserd/internal/transport"
)

const defaultPort = 3456

var (
	portFlag       int
	instanceFlag   string
	sessionIDFlag  string
	configPathFlag string
	pluginsDirFlag string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browserd",
		Short: "Run the browser automation daemon",
		RunE:  runDaemon,
	}
	cmd.Flags().IntVar(&portFlag, "port", 0, "TCP port to listen on (default: $BROWSER_PORT or 3456)")
	cmd.Flags().StringVar(&instanceFlag, "instance", "", "instance ID (default: $BROWSER_INSTANCE or \"default\")")
	cmd.Flags().StringVar(&sessionIDFlag, "session-id", "", "session ID; when set, close requires a matching sessionId")
	cmd.Flags().StringVar(&configPathFlag, "config", "", "path to browserd.yaml (optional)")
	cmd.Flags().StringVar(&pluginsDirFlag, "plugins-dir", "", "directory of yaegi plugins to hot-load (optional)")
	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("construct logger: %w", err)
	}
	defer log.Sync() //nolint:errcheck

	instanceID := resolveInstanceID(instanceFlag)
	port := resolvePort(portFlag)

	if _, err := state.EnsureInstanceDir(instanceID); err != nil {
		return fmt.Errorf("create instance directory: %w", err)
	}

	token, err := state.GenerateToken()
	if err != nil {
		return fmt.Errorf("generate session token: %w", err)
	}
	if err := state.WriteToken(instanceID, token); err != nil {
		return fmt.Errorf("write session token: %w", err)
	}

	cfg, err := config.Load(configPathFlag)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mgr, err := manager.New(instanceID, cfg, pluginsDirFlag, log)
	if err != nil {
		return fmt.Errorf("construct manager: %w", err)
	}
	if sessionIDFlag != "" {
		mgr.SetSessionID(sessionIDFlag)
	}

	server := transport.New(instanceID, mgr.Handle, log)
	actualPort, err := server.Start(port)
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	log.Infow("browserd listening", "instance", instanceID, "port", actualPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Infow("shutting down", "instance", instanceID)
	if err := mgr.Lifecycle().Close(); err != nil {
		log.Warnw("close browser during shutdown failed", "error", err)
	}
	if err := server.Stop(); err != nil {
		log.Warnw("stop server during shutdown failed", "error", err)
	}
	mgr.Stop()
	return nil
}

func newLogger() (*zap.SugaredLogger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// resolveInstanceID applies spec.md §6's precedence: --instance, then
// BROWSER_INSTANCE, then the default instance ID.
func resolveInstanceID(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("BROWSER_INSTANCE"); env != "" {
		return env
	}
	return state.DefaultInstanceID
}

// resolvePort applies spec.md §6's precedence: --port, then BROWSER_PORT,
// then 3456. An unparseable BROWSER_PORT falls back to the default rather
// than failing startup.
func resolvePort(flagValue int) int {
	if flagValue != 0 {
		return flagValue
	}
	if env := os.Getenv("BROWSER_PORT"); env != "" {
		if p, err := strconv.Atoi(env); err == nil {
			return p
		}
	}
	return defaultPort
}
