package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/facre/internal/config"
)

type submitReply struct {
	JobID   string `json:"job_id"`
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type statusReply struct {
	TaskID        string          `json:"task_id"`
	Status        string          `json:"status"`
	Progress      *float64        `json:"progress"`
	CurrentStatus string          `json:"current_status"`
	Result        json.RawMessage `json:"result"`
	Error         string          `json:"error"`
}

func (s statusReply) terminal() bool {
	return s.Status == "SUCCESS" || s.Status == "FAILURE"
}

type analysisReply struct {
	JobID       string          `json:"job_id"`
	Filename    string          `json:"filename"`
	Mode        string          `json:"mode"`
	State       string          `json:"state"`
	Sender      string          `json:"sender"`
	Subject     string          `json:"subject"`
	Confidence  *float64        `json:"confidence_score"`
	Error       string          `json:"error"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at"`
	Result      json.RawMessage `json:"result"`
}

// --- submit ---

var submitCmd = &cobra.Command{
	Use:   "submit <file.msg>",
	Short: "Submit an email for analysis",
	Long: `Upload an Outlook .msg submission to the running server.

Examples:
  facre submit placement.msg
  facre submit placement.msg --wait`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		interval, _ := cmd.Flags().GetDuration("interval")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		resp, err := client.upload(ctx, "/submit-analysis", args[0])
		if err != nil {
			return err
		}
		var sub submitReply
		if err := decodeJSON(resp, &sub); err != nil {
			return err
		}
		printSuccess("%s (job %s)", sub.Message, sub.JobID)
		if !wait {
			fmt.Fprintln(cmd.OutOrStdout(), sub.JobID)
			return nil
		}

		st, err := waitForJob(ctx, client, sub.JobID, interval)
		if err != nil {
			return err
		}
		if st.Status == "FAILURE" {
			return fmt.Errorf("analysis failed: %s", st.Error)
		}
		raw, err := client.fetchResult(ctx, sub.JobID)
		if err != nil {
			return err
		}
		return writeIndented(cmd.OutOrStdout(), raw)
	},
}

// waitForJob polls the status endpoint until the job is terminal, printing
// each new step.
func waitForJob(ctx context.Context, client *apiClient, id string, interval time.Duration) (statusReply, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		st, err := fetchStatus(ctx, client, id)
		if err != nil {
			return statusReply{}, err
		}
		if st.CurrentStatus != last {
			last = st.CurrentStatus
			pct := 0.0
			if st.Progress != nil {
				pct = *st.Progress
			}
			printStep("%s %s", progressBar(pct), st.CurrentStatus)
		}
		if st.terminal() {
			return st, nil
		}

		select {
		case <-ctx.Done():
			return statusReply{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func fetchStatus(ctx context.Context, client *apiClient, id string) (statusReply, error) {
	resp, err := client.get(ctx, "/task-status/"+url.PathEscape(id))
	if err != nil {
		return statusReply{}, err
	}
	var st statusReply
	if err := decodeJSON(resp, &st); err != nil {
		return statusReply{}, err
	}
	return st, nil
}

func init() {
	submitCmd.Flags().Bool("wait", false, "wait for the analysis and print the result")
	submitCmd.Flags().Duration("interval", time.Second, "status poll interval with --wait")
}

// --- status / result ---

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the state of an analysis job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		st, err := fetchStatus(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		printStatus(w, "Job", "%s", st.TaskID)
		printStatus(w, "State", "%s", colorize(stateColor(st.Status), st.Status))
		if st.Progress != nil {
			printStatus(w, "Progress", "%s %.0f%%", progressBar(*st.Progress), *st.Progress)
		}
		printStatus(w, "Step", "%s", st.CurrentStatus)
		if st.Error != "" {
			printStatus(w, "Error", "%s", st.Error)
		}
		return nil
	},
}

var resultCmd = &cobra.Command{
	Use:   "result <job-id>",
	Short: "Print the analysis result of a finished job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		raw, err := client.fetchResult(cmd.Context(), args[0])
		if errors.Is(err, errNotReady) {
			printWarning("%v", err)
			return nil
		}
		if err != nil {
			return err
		}
		return writeIndented(cmd.OutOrStdout(), raw)
	},
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse archived analyses",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent analyses",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/analyses?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}
		var page struct {
			Analyses []analysisReply `json:"analyses"`
			Total    int             `json:"total"`
		}
		if err := decodeJSON(resp, &page); err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(page.Analyses) == 0 {
			fmt.Fprintln(w, "No analyses found.")
			return nil
		}
		for _, a := range page.Analyses {
			confidence := "  - "
			if a.Confidence != nil {
				confidence = fmt.Sprintf("%.2f", *a.Confidence)
			}
			fmt.Fprintf(w, "%s  %s  %-8s %s  %s\n",
				colorize(colorCyan, a.JobID),
				a.CompletedAt.Local().Format(time.DateTime),
				colorize(stateColor(a.State), a.State),
				confidence,
				truncate(firstNonEmpty(a.Subject, a.Filename), 60),
			)
		}
		fmt.Fprintf(w, "%d of %d\n", len(page.Analyses), page.Total)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one archived analysis with its result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/analyses/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var a json.RawMessage
		if err := decodeJSON(resp, &a); err != nil {
			return err
		}
		return writeIndented(cmd.OutOrStdout(), a)
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete an archived analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/analyses/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var out map[string]any
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of analyses to list")
	historyListCmd.Flags().Int("offset", 0, "number of analyses to skip")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		asYAML, _ := cmd.Flags().GetBool("yaml")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		keys := config.ShowAll(cfg)

		w := cmd.OutOrStdout()
		if asYAML {
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(keys)
		}
		for _, k := range keys {
			fmt.Fprintf(w, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configShowCmd.Flags().Bool("yaml", false, "print as YAML")
	configCmd.AddCommand(configShowCmd, configSetCmd)
}

func writeIndented(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
