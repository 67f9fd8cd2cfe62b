package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/uplink/internal/config"
	"github.com/Iron-Ham/uplink/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View uplink logs",
	Long: `View and filter the uplink debug log.

Examples:
  # Show the last 50 entries
  uplink logs

  # Show everything logged for one task
  uplink logs --task task_1718000000000_3 -n 0

  # Follow warnings and errors as they are written
  uplink logs -f --level warn

  # Show sign-in activity for a provider in the last hour
  uplink logs --provider drive --since 1h --grep "handshake|token"`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail     int
	logsFollow   bool
	logsLevel    string
	logsSince    string
	logsGrep     string
	logsTask     string
	logsProvider string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter entries matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsTask, "task", "", "Only show entries for this task id")
	logsCmd.Flags().StringVar(&logsProvider, "provider", "", "Only show entries for this provider id")
}

// logQuery is the parsed form of the logs flags.
type logQuery struct {
	filter logging.Filter
	grep   *regexp.Regexp
	tail   int
}

func parseLogQuery(now time.Time) (logQuery, error) {
	q := logQuery{
		filter: logging.Filter{
			Level:      logsLevel,
			TaskID:     logsTask,
			ProviderID: logsProvider,
		},
		tail: logsTail,
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return q, fmt.Errorf("invalid duration format: %w", err)
		}
		q.filter.Since = now.Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return q, fmt.Errorf("invalid grep pattern: %w", err)
		}
		q.grep = re
	}
	return q, nil
}

// apply filters entries and keeps the last tail of them.
func (q logQuery) apply(entries []logging.Entry) []logging.Entry {
	entries = logging.FilterEntries(entries, q.filter)
	if q.grep != nil {
		kept := entries[:0]
		for _, e := range entries {
			if q.grep.MatchString(searchText(e)) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if q.tail > 0 && len(entries) > q.tail {
		entries = entries[len(entries)-q.tail:]
	}
	return entries
}

// searchText is what --grep matches: the message and every attribute value.
func searchText(e logging.Entry) string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	for _, key := range sortedKeys(e.Attrs) {
		fmt.Fprintf(&sb, " %v", e.Attrs[key])
	}
	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	logPath := filepath.Join(cfg.LogDir(), logging.FileName)
	r := newRenderer(cmd.OutOrStdout())

	if !fileExists(logPath) {
		r.printf("No logs found.\nLogs are stored at: %s\n", logPath)
		return nil
	}

	q, err := parseLogQuery(time.Now())
	if err != nil {
		return err
	}

	if logsFollow {
		ctx, stop := signalContext(cmd)
		defer stop()
		return followLogs(ctx, r, logPath, q)
	}

	entries, err := logging.ReadEntries(logPath)
	if err != nil {
		return err
	}
	entries = q.apply(entries)
	if len(entries) == 0 {
		r.printf("No matching log entries found.\n")
		return nil
	}
	for _, e := range entries {
		r.printf("%s\n", r.logLine(e))
	}
	return nil
}

// followLogs prints entries appended to the log until ctx is done.
func followLogs(ctx context.Context, r *renderer, logPath string, q logQuery) error {
	f, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	r.printf("Following logs... (Ctrl+C to stop)\n\n")

	q.tail = 0
	reader := bufio.NewReader(f)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	var partial string
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			partial += line
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}

		line = strings.TrimSpace(partial + line)
		partial = ""
		if line == "" {
			continue
		}
		entries, perr := logging.ParseEntries(strings.NewReader(line))
		if perr != nil || len(entries) == 0 {
			r.printf("%s\n", line)
			continue
		}
		for _, e := range q.apply(entries) {
			r.printf("%s\n", r.logLine(e))
		}
	}
}
