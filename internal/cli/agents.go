package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/lipish/openrunner/pkg/agent"
	"github.com/spf13/cobra"
)

var agentsCheck bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agent types",
	Long: `List the agent types runs may use. With --check, every type is built from
the configured defaults and health checked: CLI agents check their binary, LLM
agents query their provider.`,
	Args: cobra.NoArgs,
	RunE: runAgents,
}

func init() {
	agentsCmd.Flags().BoolVar(&agentsCheck, "check", false, "health check every agent type")
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if !agentsCheck {
		for _, t := range agent.Types() {
			fmt.Fprintln(out, t)
		}
		return nil
	}

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

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSTATUS\tDETAIL")
	for _, t := range agent.Types() {
		agentCfg := cfg.Agent.RunConfig()
		agentCfg.Type = t

		a, err := factory.Create(agentCfg)
		if err == nil {
			err = a.HealthCheck(ctx)
		}
		if err != nil {
			fmt.Fprintf(tw, "%s\tunhealthy\t%v\n", t, err)
			continue
		}
		fmt.Fprintf(tw, "%s\tok\t\n", t)
	}
	return tw.Flush()
}
