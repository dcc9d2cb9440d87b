package cli

import (
	"fmt"

	"github.com/lipish/openrunner/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the openrunner server",
	Long: `Start the openrunner HTTP server in the foreground.
It accepts runs over REST, JSON-RPC and websockets, streams their events, and
serves an OpenAI-compatible chat endpoint backed by the provider registry.
SIGINT or SIGTERM shuts it down gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	if pid, err := daemon.ReadPID(pidFile); err == nil && daemon.ProcessRunning(pid) {
		return fmt.Errorf("server is already running (PID %d, PID file: %s)", pid, pidFile)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	d, err := daemon.New(cfg, log, loader)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "openrunner listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	return d.Wait(cmd.Context())
}
