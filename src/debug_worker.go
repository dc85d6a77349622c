package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

// ANSI color codes for highlighting changes
const (
	ansiReset  = "\033[0m"
	ansiYellow = "\033[33m" // Yellow for changed values
)

// readlineWriter wraps log output to work with readline
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// formatValue formats an optional reading for the console
func formatValue(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

// DebugState tracks the watched channels and the latest snapshot
type DebugState struct {
	out          io.Writer
	rl           *readline.Instance
	watches      []string
	latest       *StatusSnapshot
	columnWidths []int
	prevValues   map[string]string
	headerDone   bool
}

// NewDebugState creates a new debug state printing to out
func NewDebugState(out io.Writer) *DebugState {
	return &DebugState{
		out:        out,
		prevValues: make(map[string]string),
	}
}

// print outputs a line, handling readline prompt properly
func (s *DebugState) print(format string, args ...any) {
	if s.rl != nil {
		s.rl.Clean()
		defer s.rl.Refresh()
	}
	_, _ = fmt.Fprintf(s.out, format+"\n", args...)
}

// AddWatch starts watching a channel's live value
func (s *DebugState) AddWatch(key string) {
	if slices.Contains(s.watches, key) {
		s.print("Already watching: %s", key)
		return
	}
	if s.latest != nil {
		if _, ok := s.latest.Channel(key); !ok {
			s.print("Unknown channel: %s", key)
			return
		}
	}
	s.watches = append(s.watches, key)
	slices.Sort(s.watches)
	s.headerDone = false
	s.print("Watching: %s", key)
}

// RemoveWatch stops watching a channel
func (s *DebugState) RemoveWatch(key string) bool {
	i := slices.Index(s.watches, key)
	if i < 0 {
		s.print("No watch found for: %s", key)
		return false
	}
	s.watches = slices.Delete(s.watches, i, i+1)
	s.headerDone = false
	s.print("Unwatched: %s", key)
	return true
}

// RemoveAll removes all watches
func (s *DebugState) RemoveAll() {
	s.watches = s.watches[:0]
	s.headerDone = false
	s.print("All watches removed")
}

// UpdateData stores the snapshot and prints a watch row if anything changed
func (s *DebugState) UpdateData(snap StatusSnapshot) {
	s.latest = &snap
	if len(s.watches) > 0 {
		s.PrintRow(snap)
	}
}

// PrintHeader prints the watch column headers
func (s *DebugState) PrintHeader() {
	s.columnWidths = make([]int, len(s.watches))
	parts := make([]string, len(s.watches))
	for i, key := range s.watches {
		s.columnWidths[i] = max(len(key), 6)
		parts[i] = fmt.Sprintf("%*s", s.columnWidths[i], key)
	}
	s.print("%s", strings.Join(parts, " | "))
	s.headerDone = true
	s.prevValues = make(map[string]string)
}

// PrintRow prints the live value of every watched channel, highlighting
// changes. Nothing is printed if no value changed.
func (s *DebugState) PrintRow(snap StatusSnapshot) {
	if !s.headerDone {
		s.PrintHeader()
	}

	parts := make([]string, len(s.watches))
	newValues := make(map[string]string, len(s.watches))
	anyChanged := false

	for i, key := range s.watches {
		value := "?"
		if ch, ok := snap.Channel(key); ok {
			value = formatValue(ch.Live)
		}
		newValues[key] = value

		width := max(s.columnWidths[i], len(value))
		s.columnWidths[i] = width

		if prev, ok := s.prevValues[key]; !ok || prev != value {
			anyChanged = true
			parts[i] = fmt.Sprintf("%s%*s%s", ansiYellow, width, value, ansiReset)
		} else {
			parts[i] = fmt.Sprintf("%*s", width, value)
		}
	}

	if anyChanged {
		s.print("%s", strings.Join(parts, " | "))
		s.prevValues = newValues
	}
}

// PrintStatus prints clock, window fill and last delivery
func (s *DebugState) PrintStatus() {
	snap := s.latest
	if snap == nil {
		s.print("No status yet")
		return
	}

	s.print("Time:       %s", snap.Time.Format(time.RFC3339))
	s.print("Clock:      %s", map[bool]string{true: "valid", false: "not set"}[snap.ClockValid])
	s.print("Window:     %d/%d samples", snap.Populated, snap.Capacity)
	if snap.LastSample != nil {
		s.print("Last sample: %s", snap.LastSample.Format(time.RFC3339))
	}
	if d := snap.LastDelivery; d != nil {
		outcome := fmt.Sprintf("status %d", d.Status)
		if d.Error != "" {
			outcome = d.Error
		}
		s.print("Last report: %s (%d samples) %s", d.ReportID, d.Samples, outcome)
	}
}

// PrintWindow prints every sample in the current window
func (s *DebugState) PrintWindow() {
	if s.latest == nil {
		s.print("No status yet")
		return
	}
	for _, ch := range s.latest.Channels {
		values := make([]string, len(ch.Window))
		for i, v := range ch.Window {
			values[i] = formatValue(v)
		}
		s.print("%-12s [%s]", ch.Key, strings.Join(values, ", "))
	}
}

// PrintLive prints the held live value and hourly range of every channel
func (s *DebugState) PrintLive() {
	if s.latest == nil {
		s.print("No status yet")
		return
	}
	for _, ch := range s.latest.Channels {
		s.print("%-12s %8s %-3s (hour %s .. %s)",
			ch.Key, formatValue(ch.Live), ch.Unit, formatValue(ch.HourMin), formatValue(ch.HourMax))
	}
}

// handleDebugCommand processes a debug command
func handleDebugCommand(cmd string, state *DebugState) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "status":
		state.PrintStatus()

	case "window":
		state.PrintWindow()

	case "live":
		state.PrintLive()

	case "watch":
		if len(parts) < 2 {
			state.print("Usage: watch <channel>...")
			return
		}
		for _, key := range parts[1:] {
			state.AddWatch(key)
		}

	case "unwatch":
		if len(parts) < 2 {
			state.print("Usage: unwatch <channel>... | unwatch --all")
			return
		}
		if parts[1] == "--all" {
			state.RemoveAll()
			return
		}
		for _, key := range parts[1:] {
			state.RemoveWatch(key)
		}

	case "help":
		state.print("Commands:")
		state.print("  status                 - Clock, window fill and last report")
		state.print("  window                 - Samples in the current window")
		state.print("  live                   - Live values and hourly min/max")
		state.print("  watch <channel>...     - Print live values as they change")
		state.print("  unwatch <channel>...   - Stop watching")
		state.print("  unwatch --all          - Remove all watches")
		state.print("  help                   - Show this help")

	default:
		state.print("Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for debug history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(cacheDir, "sensorctl")
	_ = os.MkdirAll(dir, 0750)
	return filepath.Join(dir, "debug_history")
}

// debugWorker provides an interactive console over the scheduler status
func debugWorker(ctx context.Context, cancel context.CancelFunc, dataChan <-chan StatusSnapshot) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("Debug worker: readline init failed: %v\n", err)
		return
	}

	// Redirect log output through readline-aware writer
	rlWriter := &readlineWriter{rl: rl}
	log.SetOutput(rlWriter)
	defer func() {
		log.SetOutput(os.Stderr)
		_ = rl.Close()
	}()

	log.Println("Debug worker started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := NewDebugState(os.Stdout)
	state.rl = rl

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleDebugCommand(cmd, state)
		case snap := <-dataChan:
			state.UpdateData(snap)
		case <-ctx.Done():
			log.Println("Debug worker stopped")
			return
		}
	}
}
