package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"programmer/pkg/metrics"
	"programmer/pkg/persistence"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE:  runSessions,
	}
	cmd.Flags().Int("limit", 20, "Maximum number of sessions to list, newest first")
	cmd.Flags().String("prometheus", "", "Prometheus server URL to read token usage from")
	return cmd
}

func runSessions(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Persistence.Disabled {
		return fmt.Errorf("persistence is disabled")
	}
	if err := a.openStore(ctx); err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	list, err := a.store.ListSessions(ctx, limit)
	if err != nil {
		return err
	}

	var usage map[string]*metrics.SessionUsage
	if url, _ := cmd.Flags().GetString("prometheus"); url != "" {
		q, err := metrics.NewQueryService(url)
		if err != nil {
			return err
		}
		usage = make(map[string]*metrics.SessionUsage, len(list))
		for i := range list {
			u, err := q.SessionUsage(ctx, list[i].SessionID)
			if err != nil {
				a.logger.Warn("Failed to query usage for %s: %v", list[i].SessionID, err)
				continue
			}
			usage[list[i].SessionID] = u
		}
	}
	return printSessions(cmd.OutOrStdout(), list, usage)
}

func printSessions(w io.Writer, list []persistence.Session, usage map[string]*metrics.SessionUsage) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	header := "SESSION\tSTATUS\tSTEPS\tMODEL\tSTARTED\tTASK"
	if usage != nil {
		header += "\tTOKENS"
	}
	fmt.Fprintln(tw, header)
	for i := range list {
		s := &list[i]
		line := fmt.Sprintf("%s\t%s\t%d\t%s\t%s\t%s", s.SessionID, s.Status, s.StepCount, s.Model,
			s.StartedAt.Local().Format(time.DateTime), summarize(s.Task, 50))
		if usage != nil {
			tokens := "-"
			if u, ok := usage[s.SessionID]; ok {
				tokens = fmt.Sprintf("%d", u.PromptTokens)
			}
			line += "\t" + tokens
		}
		fmt.Fprintln(tw, line)
	}
	return tw.Flush()
}

func summarize(s string, n int) string {
	runes := []rune(s)
	for i, r := range runes {
		if r == '\n' {
			runes = runes[:i]
			break
		}
	}
	if len(runes) > n {
		return string(runes[:n-3]) + "..."
	}
	return string(runes)
}
