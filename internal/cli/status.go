package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/lipish/openrunner/internal/daemon"
	"github.com/spf13/cobra"
)

const statusCheckTimeout = 2 * time.Second

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Show whether the openrunner server is running, its PID and uptime, and
the number of active runs reported by its health endpoint.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type healthReport struct {
	Status       string `json:"status"`
	ActiveRuns   int    `json:"active_runs"`
	Clients      int    `json:"clients"`
	ArchivedRuns *int   `json:"archived_runs"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pidFile := daemon.PIDFilePath(cfg.DataDir)
	pid, err := daemon.ReadPID(pidFile)
	if err != nil || !daemon.ProcessRunning(pid) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	// The PID file is written at startup, so its age is the uptime.
	if info, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	report, err := fetchHealth(fmt.Sprintf("http://%s:%d/health", host, cfg.Server.Port))
	if err != nil {
		fmt.Fprintf(out, "Health: unreachable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Health: %s\n", report.Status)
	fmt.Fprintf(out, "Active runs: %d\n", report.ActiveRuns)
	fmt.Fprintf(out, "Clients: %d\n", report.Clients)
	if report.ArchivedRuns != nil {
		fmt.Fprintf(out, "Archived runs: %d\n", *report.ArchivedRuns)
	}
	return nil
}

func fetchHealth(url string) (healthReport, error) {
	var report healthReport

	client := &http.Client{Timeout: statusCheckTimeout}
	resp, err := client.Get(url)
	if err != nil {
		return report, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return report, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return report, fmt.Errorf("invalid health response: %w", err)
	}
	return report, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
