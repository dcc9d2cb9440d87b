package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Inspect the configured gateway providers",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provider entries with credentials masked",
	Args:  cobra.NoArgs,
	RunE:  runProvidersList,
}

var providersCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Health check every provider entry",
	Args:  cobra.NoArgs,
	RunE:  runProvidersCheck,
}

func init() {
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersCheckCmd)
	rootCmd.AddCommand(providersCmd)
}

func runProvidersList(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	providers, _, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPROVIDER\tMODEL\tFALLBACKS\tBALANCING\tAPI KEY")
	for _, name := range providers.List() {
		entry, _ := providers.Get(name)
		entry = entry.Redacted()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			name,
			entry.Provider,
			orDash(entry.Model),
			orDash(strings.Join(entry.FallbackProviders, ",")),
			orDash(string(entry.LoadBalancing)),
			orDash(entry.APIKey),
		)
	}
	return tw.Flush()
}

func runProvidersCheck(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	providers, factory, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	results := providers.HealthCheck(ctx, factory)

	unhealthy := 0
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tDETAIL")
	for _, name := range providers.List() {
		if err := results[name]; err != nil {
			unhealthy++
			fmt.Fprintf(tw, "%s\tunhealthy\t%v\n", name, err)
			continue
		}
		fmt.Fprintf(tw, "%s\tok\t\n", name)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if unhealthy > 0 {
		return fmt.Errorf("%d of %d providers unhealthy", unhealthy, len(results))
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
