package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/config"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/model"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/store"
	"github.com/amo-tech-ai/rocket-path-ai-sub000/internal/tracking"
)

var (
	statusJSON   bool
	statusLimit  int
	statusFilter string
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")).
			Padding(0, 1)

	statusColors = map[string]lipgloss.Color{
		"complete": "#4CAF50",
		"ok":       "#4CAF50",
		"partial":  "#FFB300",
		"failed":   "#FF6B6B",
		"running":  "#5B8DEF",
	}
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show one session, or list recent sessions",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate(config.ModeStore); err != nil {
			return err
		}
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		sessions := tracking.NewSessions(st, cfg.SessionsOptions())
		out := cmd.OutOrStdout()

		if len(args) == 0 {
			list, err := st.ListSessions(ctx, store.SessionFilter{
				Status: model.SessionStatus(statusFilter),
				Limit:  statusLimit,
			})
			if err != nil {
				return eris.Wrap(err, "list sessions")
			}
			fmt.Fprint(out, renderSessionList(list))
			return nil
		}

		view, err := sessions.Status(ctx, args[0])
		if err != nil {
			return err
		}
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(view)
		}
		fmt.Fprintln(out, renderStatus(view))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the raw status JSON")
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "max sessions to list")
	statusCmd.Flags().StringVar(&statusFilter, "filter", "", "only list sessions with this status")
	rootCmd.AddCommand(statusCmd)
}

func styled(status string) string {
	c, ok := statusColors[status]
	if !ok {
		return status
	}
	return lipgloss.NewStyle().Foreground(c).Render(status)
}

// renderStatus formats a status view as a bordered card.
func renderStatus(v *model.StatusView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", titleStyle.Render("Session "+v.SessionID))
	fmt.Fprintf(&b, "%s %s  %s %d%%\n", labelStyle.Render("status:"), styled(string(v.Status)), labelStyle.Render("progress:"), v.Progress)
	if v.ErrorMessage != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("error:"), v.ErrorMessage)
	}

	b.WriteString("\n")
	for _, s := range v.Stages {
		line := fmt.Sprintf("%d. %-16s %s", s.Step, s.Stage, styled(string(s.Status)))
		if s.DurationMS > 0 {
			line += fmt.Sprintf(" (%.1fs)", float64(s.DurationMS)/1000)
		}
		if s.Error != "" {
			line += "  " + labelStyle.Render(s.Error)
		}
		b.WriteString(line + "\n")
	}

	if r := v.Report; r != nil {
		b.WriteString("\n")
		score := "not scored"
		if r.Score != nil {
			score = fmt.Sprintf("%d/100", *r.Score)
			if r.Verdict != "" {
				score += " (" + string(r.Verdict) + ")"
			}
		}
		fmt.Fprintf(&b, "%s %s  %s %t\n", labelStyle.Render("score:"), score, labelStyle.Render("verified:"), r.Verified)
		if r.Summary != "" {
			fmt.Fprintf(&b, "%s\n", r.Summary)
		}
	}
	return boxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// renderSessionList formats sessions one per line.
func renderSessionList(list []model.Session) string {
	if len(list) == 0 {
		return "no sessions\n"
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("Recent sessions") + "\n")
	for _, s := range list {
		fmt.Fprintf(&b, "%s  %s  %s  %s\n",
			s.ID,
			s.CreatedAt.Format("2006-01-02 15:04"),
			styled(string(s.Status)),
			truncate(s.InputText, 60),
		)
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
