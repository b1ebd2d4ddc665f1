package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/logsync/internal/control"
	"github.com/vietddude/logsync/internal/core/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status [channel]",
	Short: "Show the scan state of all channels, or the gaps of one",
	Args:  cobra.MaximumNArgs(1),
	Run:   runStatus,
}

var messageLimit int

var messagesCmd = &cobra.Command{
	Use:   "messages [channel]",
	Short: "Print the most recent cached messages of a channel",
	Args:  cobra.ExactArgs(1),
	Run:   runMessages,
}

func init() {
	messagesCmd.Flags().IntVar(&messageLimit, "limit", 20, "number of messages to print")
	rootCmd.AddCommand(statusCmd, messagesCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := openEngine(ctx)
	defer closeComponents(c)

	statuses, err := c.Engine.Status(ctx)
	if err != nil {
		slog.Error("Failed to read status", "error", err)
		closeComponents(c)
		os.Exit(1)
	}

	if len(args) == 1 {
		key := domain.NormalizeChannel(args[0])
		for _, s := range statuses {
			if s.Channel == key {
				printChannel(s)
				return
			}
		}
		fmt.Printf("channel %s has no scan state\n", key)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CHANNEL\tRANGES\tTIP\tGAPS\tGAP BLOCKS\tMESSAGES\tSTATE\tUPDATED")
	for _, s := range statuses {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			s.Channel, len(s.Ranges), s.Tip, len(s.Gaps), s.GapBlocks, s.Messages, s.State, formatTime(s.LastUpdated))
	}
	_ = w.Flush()
}

func printChannel(s control.ChannelStatus) {
	fmt.Printf("Channel:     %s (%s)\n", s.Channel, s.Kind)
	fmt.Printf("Lower bound: %d\n", s.LowerBound)
	fmt.Printf("Tip / head:  %d / %d\n", s.Tip, s.Head)
	fmt.Printf("Messages:    %d\n", s.Messages)
	fmt.Printf("State:       %s\n", s.State)
	if s.LastRun != "" {
		fmt.Printf("Last run:    %s\n", s.LastRun)
	}
	if s.LastError != "" {
		fmt.Printf("Last error:  %s\n", s.LastError)
	}
	fmt.Printf("Updated:     %s\n", formatTime(s.LastUpdated))
	fmt.Printf("Ranges:      %s\n", joinRanges(s.Ranges))

	if len(s.Gaps) == 0 {
		fmt.Println("Gaps:        none")
		return
	}
	fmt.Printf("Gaps:        %d (%d blocks)\n", len(s.Gaps), s.GapBlocks)
	for _, g := range s.Gaps {
		fmt.Printf("  %s  %d blocks\n", g, g.Size())
	}
}

func runMessages(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	c := openEngine(ctx)
	defer closeComponents(c)

	msgs, err := c.Engine.GetMessages(ctx, args[0], messageLimit)
	if err != nil {
		slog.Error("Failed to read messages", "error", err)
		closeComponents(c)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "BLOCK\tLOG\tSENDER\tNAME\tCONTENT")
	for _, m := range msgs {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", m.BlockNumber, m.LogIndex, m.Sender, m.DisplayName, m.Content)
	}
	_ = w.Flush()
}

func joinRanges(ranges []domain.Range) string {
	if len(ranges) == 0 {
		return "none"
	}
	parts := make([]string, len(ranges))
	for i, r := range ranges {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
