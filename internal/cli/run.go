package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lipish/openrunner/internal/config"
	"github.com/lipish/openrunner/internal/logger"
	"github.com/lipish/openrunner/pkg/agent"
	"github.com/lipish/openrunner/pkg/gateway"
	"github.com/lipish/openrunner/pkg/run"
	"github.com/spf13/cobra"
)

const cliUser = "cli"

var (
	runAgent   string
	runModel   string
	runWorkDir string
	runTimeout uint64
	runSession string
)

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run a single prompt locally and stream the output",
	Long: `Run a single prompt against an agent without starting the server.
Output tokens are written to stdout as they arrive. Interrupting the command
cancels the run.`,
	Example: `  openrunner run --agent mock "hello"
  openrunner run --agent gateway --model openrouter "summarize this repo"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runAgent, "agent", "a", "", "agent type (defaults to agent.default_type)")
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "model, or a provider entry name for the gateway agent")
	runCmd.Flags().StringVar(&runWorkDir, "work-dir", "", "working directory for CLI agents")
	runCmd.Flags().Uint64Var(&runTimeout, "timeout", 0, "timeout in seconds (0 keeps the configured default)")
	runCmd.Flags().StringVar(&runSession, "session", "", "session id recorded on the run")
	rootCmd.AddCommand(runCmd)
}

// newRuntime builds the provider registry and the agent factory from cfg.
func newRuntime(cfg *config.Config, log *logger.Logger) (*gateway.Registry, *agent.Factory, error) {
	providers := gateway.NewRegistry(log.Component("gateway"))
	if err := cfg.ApplyProviders(providers); err != nil {
		return nil, nil, fmt.Errorf("failed to register providers: %w", err)
	}
	factory := agent.NewFactory(
		agent.WithGatewayBuilder(providers.AgentBuilder()),
		agent.WithFactoryLogger(log.Component("agent")),
	)
	return providers, factory, nil
}

func runAgentConfig(cfg *config.Config) agent.Config {
	agentCfg := cfg.Agent.RunConfig()
	if runAgent != "" {
		agentCfg.Type = runAgent
	}
	if runModel != "" {
		agentCfg.Model = runModel
	}
	if runWorkDir != "" {
		agentCfg.WorkingDir = runWorkDir
	}
	if runTimeout > 0 {
		agentCfg.TimeoutSecs = runTimeout
	}
	return agentCfg
}

func runRun(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	_, factory, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}

	manager := run.NewManager(run.ManagerConfig{
		Registry:    run.NewRegistry(),
		Factory:     factory,
		Logger:      log.Component("run_manager"),
		EventBuffer: cfg.Runs.EventBuffer,
		MailboxSize: cfg.Runs.MailboxSize,
	})
	defer manager.Shutdown(context.Background())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return streamRun(ctx, manager, cmd.OutOrStdout(), strings.Join(args, " "), runAgentConfig(cfg))
}

// streamRun submits prompt and copies its deltas to out until the run ends.
// The subscription is attached before the run starts so no delta is missed.
func streamRun(ctx context.Context, manager *run.Manager, out io.Writer, prompt string, agentCfg agent.Config) error {
	id := manager.CreateRun(cliUser, runSession, prompt)
	sub, _ := manager.Subscribe(id)
	defer manager.Unsubscribe(id, sub)

	if err := manager.StartRun(ctx, id, agentCfg); err != nil {
		manager.Registry().Remove(id)
		return err
	}

	for {
		select {
		case ev := <-sub.Events():
			switch e := ev.(type) {
			case run.MessageDelta:
				fmt.Fprint(out, e.Delta)
			case run.RunCompleted:
				fmt.Fprintln(out)
				return nil
			case run.RunFailed:
				return errors.New(e.Error)
			}
		case <-sub.Done():
			r, _ := manager.GetRun(id)
			if ev, ok := run.TerminalEvent(r); ok {
				if failed, isFailure := ev.(run.RunFailed); isFailure {
					return errors.New(failed.Error)
				}
				fmt.Fprintln(out)
				return nil
			}
			return run.ErrSubscriberClosed
		case <-ctx.Done():
			manager.CancelRun(id)
			return errors.New(run.CancelledMessage)
		}
	}
}
