package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/lipish/openrunner/pkg/agent"
	"github.com/lipish/openrunner/pkg/gateway"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and prompting on out
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	w.println("=== openrunner configuration ===")
	w.println()

	cfg := DefaultConfig()
	validator := NewValidator()
	defaults := gateway.DefaultConfigs()

	w.println("Provider API keys (press Enter to skip; keys may also come from the environment):")
	for _, name := range []string{agent.TypeOpenRouter, agent.TypeOpenAI, agent.TypeAnthropic} {
		for {
			key, err := w.ask(fmt.Sprintf("%s API key", name), "")
			if err != nil {
				return nil, err
			}
			if key == "" {
				break
			}
			if err := validator.ValidateAPIKey(key, name); err != nil {
				w.printf("Error: %v\n", err)
				continue
			}

			entry := defaults[name]
			entry.APIKey = key
			cfg.Providers[name] = entry
			break
		}
	}
	// Fallbacks name the other built-in entries, so keep them registered.
	if len(cfg.Providers) > 0 {
		for name, entry := range defaults {
			if _, ok := cfg.Providers[name]; !ok {
				cfg.Providers[name] = entry
			}
		}
	}

	w.println()
	for {
		tag, err := w.ask(fmt.Sprintf("Default agent type (%s)", strings.Join(agent.Types(), ", ")), cfg.Agent.DefaultType)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateAgentType(tag); err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.Agent.DefaultType = tag
		break
	}

	for {
		answer, err := w.ask("Server port", strconv.Itoa(cfg.Server.Port))
		if err != nil {
			return nil, err
		}
		port, err := strconv.Atoi(answer)
		if err == nil {
			err = validator.ValidatePort(port)
		}
		if err != nil {
			w.printf("Error: %v\n", err)
			continue
		}
		cfg.Server.Port = port
		break
	}

	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		w.printf("Warning: %v, using default (info)\n", err)
	} else {
		cfg.Logging.Level = level
	}

	w.println()
	w.println("Configuration complete!")

	return cfg, nil
}

// ask prompts with an optional default shown in brackets
func (w *Wizard) ask(prompt, def string) (string, error) {
	if def != "" {
		w.printf("%s [%s]: ", prompt, def)
	} else {
		w.printf("%s: ", prompt)
	}

	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def, nil
	}
	return line, nil
}

func (w *Wizard) println(a ...any) {
	fmt.Fprintln(w.out, a...)
}

func (w *Wizard) printf(format string, a ...any) {
	fmt.Fprintf(w.out, format, a...)
}
