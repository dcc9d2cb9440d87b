package cli

import (
	"fmt"

	"github.com/lipish/openrunner/internal/config"
	"github.com/lipish/openrunner/internal/logger"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "openrunner",
	Short: "openrunner - run coding agents and LLM providers behind one API",
	Long: `openrunner runs prompts against interchangeable agents (local CLI tools such as
Claude Code or Codex, and LLM APIs such as OpenAI, Anthropic and OpenRouter),
streams their output as run events, and reroutes failed requests to fallback
providers.`,
	Version:      version,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the openrunner version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "openrunner version %s\n", version)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.openrunner/openrunner.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
	rootCmd.AddCommand(versionCmd)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config named by --config and applies --log-level.
func loadConfig() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return loader, cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	l := cfg.Logging
	log, err := logger.New(logger.Config{
		Level:     l.Level,
		File:      l.File,
		Console:   l.Console,
		Pretty:    l.Pretty,
		Redaction: l.Redaction,
		MaxSize:   l.MaxSize,
		MaxAge:    l.MaxAge,
		Compress:  l.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}
