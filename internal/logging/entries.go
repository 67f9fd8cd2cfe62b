package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"
)

// Entry is one parsed line of the JSON log.
type Entry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"msg"`
	TaskID     string         `json:"task_id,omitempty"`
	ProviderID string         `json:"provider_id,omitempty"`
	Component  string         `json:"component,omitempty"`
	Attrs      map[string]any `json:"attrs,omitempty"`
}

// Filter selects entries. Zero-valued fields do not filter.
type Filter struct {
	// Level keeps entries at or above this level.
	Level      string
	TaskID     string
	ProviderID string
	Since      time.Time
	Contains   string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadEntries parses every JSON line in path, skipping lines that do not
// parse, and returns the entries sorted by time.
func ReadEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file at %s: %w", path, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()

	entries, err := ParseEntries(f)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Time.Before(entries[j].Time)
	})
	return entries, nil
}

// ParseEntries parses JSON log lines from r in order, skipping lines that
// do not parse.
func ParseEntries(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	const maxLine = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLine)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}
	return entries, nil
}

func parseEntry(line string) (Entry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Entry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := Entry{Attrs: make(map[string]any)}
	for key, value := range raw {
		switch key {
		case "time":
			if s, ok := value.(string); ok {
				if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
					entry.Time = t
				}
			}
		case "level":
			entry.Level, _ = value.(string)
		case "msg":
			entry.Message, _ = value.(string)
		case "task_id":
			entry.TaskID, _ = value.(string)
		case "provider_id":
			entry.ProviderID, _ = value.(string)
		case "component":
			entry.Component, _ = value.(string)
		default:
			entry.Attrs[key] = value
		}
	}
	return entry, nil
}

// FilterEntries returns the entries matching every non-zero field of f.
func FilterEntries(entries []Entry, f Filter) []Entry {
	minLevel := -1
	if f.Level != "" {
		minLevel = levelOrder[ParseLevel(f.Level)]
	}

	var out []Entry
	for _, e := range entries {
		if minLevel >= 0 && levelOrder[ParseLevel(e.Level)] < minLevel {
			continue
		}
		if f.TaskID != "" && e.TaskID != f.TaskID {
			continue
		}
		if f.ProviderID != "" && e.ProviderID != f.ProviderID {
			continue
		}
		if !f.Since.IsZero() && e.Time.Before(f.Since) {
			continue
		}
		if f.Contains != "" && !strings.Contains(strings.ToLower(e.Message), strings.ToLower(f.Contains)) {
			continue
		}
		out = append(out, e)
	}
	return out
}
