package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/genie-room/backend/internal/model/conversation"
	store "github.com/zhouzirui/genie-room/backend/internal/service/conversation"
	"github.com/zhouzirui/genie-room/backend/internal/service/orchestrator"
)

var askCmd = &cobra.Command{
	Use:   "ask [question] [follow-up...]",
	Short: "Ask one or more questions in a single conversation",
	Long: `Ask sends the first question as a new Genie conversation and every further
argument as a follow-up, printing each answer, its SQL and the result rows.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().Bool("json", false, "Print turns as JSON")
	askCmd.Flags().Int("max-rows", 20, "Maximum result rows to print")
}

func runAsk(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	maxRows, _ := cmd.Flags().GetInt("max-rows")

	client, cfg, err := newClient()
	if err != nil {
		return err
	}

	st := store.NewStore()
	orch := orchestrator.New(st, client, nil, orchestrator.Options{
		SpaceID:         cfg.Genie.SpaceID,
		PollInterval:    cfg.Poll.Interval,
		PollMaxAttempts: cfg.Poll.MaxAttempts,
		Retry: orchestrator.RetryPolicy{
			Attempts:      cfg.Poll.RetryAttempts,
			InitialDelay:  cfg.Poll.RetryInitialDelay,
			MaxDelay:      cfg.Poll.RetryMaxDelay,
			BackoffFactor: 2,
			Jitter:        0.1,
		},
	})
	defer orch.Close()

	out := cmd.OutOrStdout()
	conversationID := ""
	for _, question := range args {
		turn, err := orch.Ask(cmd.Context(), conversationID, question)
		if err != nil {
			return err
		}
		conversationID = turn.ConversationID

		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(turn); err != nil {
				return err
			}
		} else {
			renderTurn(out, turn, maxRows)
		}
		if turn.Status == conversation.StatusFailed {
			return fmt.Errorf("question %q failed", question)
		}
	}
	return nil
}

func renderTurn(w io.Writer, turn conversation.Turn, maxRows int) {
	fmt.Fprintf(w, "Q: %s\n", turn.Question)
	if turn.Status == conversation.StatusFailed && turn.Failure != nil {
		fmt.Fprintf(w, "!  %s (%s)\n\n", turn.Failure.Message, turn.Failure.Kind)
		return
	}
	if turn.Answer != "" {
		fmt.Fprintf(w, "A: %s\n", turn.Answer)
	}
	if turn.SQL != "" {
		fmt.Fprintf(w, "\nSQL:\n%s\n", indent(turn.SQL))
	}
	if len(turn.Columns) > 0 {
		fmt.Fprintln(w)
		renderTable(w, turn.Columns, turn.Rows, maxRows)
	}
	if len(turn.SuggestedQuestions) > 0 {
		fmt.Fprintln(w, "\nYou could also ask:")
		for _, q := range turn.SuggestedQuestions {
			fmt.Fprintf(w, "  - %s\n", q)
		}
	}
	if turn.CompletedAt != nil {
		fmt.Fprintf(w, "\n(%s)\n", turn.CompletedAt.Sub(turn.CreatedAt).Round(time.Millisecond))
	}
	fmt.Fprintln(w)
}

func renderTable(w io.Writer, columns []conversation.Column, rows []conversation.Row, maxRows int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = strings.ToUpper(col.Name)
	}
	fmt.Fprintln(tw, strings.Join(names, "\t"))

	for i, row := range rows {
		if maxRows > 0 && i >= maxRows {
			break
		}
		cells := make([]string, len(columns))
		for j, col := range columns {
			if v := row[col.Name]; v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()

	if maxRows > 0 && len(rows) > maxRows {
		fmt.Fprintf(w, "... %d more rows\n", len(rows)-maxRows)
	}
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(strings.TrimSpace(s), "\n", "\n  ")
}
