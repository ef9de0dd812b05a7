package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/echolink/echolink-go/pkg/log"
)

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect protocol capture files",
		Long: `Protocol capture files are written by --protocol-log. They hold one CBOR
record per frame, state change or error.`,
	}
	cmd.AddCommand(logViewCmd(), logStatsCmd())
	return cmd
}

func logViewCmd() *cobra.Command {
	var layer, direction, category, connID string

	cmd := &cobra.Command{
		Use:   "view <file>",
		Short: "Print a capture file in human-readable form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := log.Filter{ConnectionID: connID}

			if layer != "" {
				l, err := parseLayerFlag(layer)
				if err != nil {
					return err
				}
				filter.Layer = &l
			}
			if direction != "" {
				d, ok := log.ParseDirection(direction)
				if !ok {
					return fmt.Errorf("invalid direction: %s (must be in or out)", direction)
				}
				filter.Direction = &d
			}
			if category != "" {
				c, ok := log.ParseCategory(category)
				if !ok {
					return fmt.Errorf("invalid category: %s (must be message, state or error)", category)
				}
				filter.Category = &c
			}

			return runView(args[0], filter, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&layer, "layer", "", "Filter by layer (transport, connection, session)")
	cmd.Flags().StringVar(&direction, "direction", "", "Filter by direction (in, out)")
	cmd.Flags().StringVar(&category, "category", "", "Filter by category (message, state, error)")
	cmd.Flags().StringVar(&connID, "conn-id", "", "Filter by connection ID")

	return cmd
}

func logStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <file>",
		Short: "Summarize a capture file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(args[0], cmd.OutOrStdout())
		},
	}
}

// parseLayerFlag parses a layer name (case-insensitive).
func parseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "transport":
		return log.LayerTransport, nil
	case "connection":
		return log.LayerConnection, nil
	case "session":
		return log.LayerSession, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be transport, connection or session)", s)
	}
}

func runView(path string, filter log.Filter, w io.Writer) error {
	reader, err := log.Open(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for event, err := range reader.Events() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(w, event)
	}
	return nil
}

// formatEvent writes one event as a header line plus indented details.
func formatEvent(w io.Writer, event log.Event) {
	var kind, dir string
	var details []string

	switch {
	case event.Frame != nil:
		kind, dir = "Frame", event.Direction.String()
		details = append(details, fmt.Sprintf("Size: %d bytes", event.Frame.Size))
		if data := event.Frame.Data; len(data) > 0 {
			line := "Data: " + hex.EncodeToString(data)
			if event.Frame.Truncated {
				line += " (truncated)"
			}
			details = append(details, line)
		}
	case event.StateChange != nil:
		sc := event.StateChange
		kind = "State"
		details = append(details, strings.TrimSpace(sc.OldState+" -> "+sc.NewState))
		if sc.Reason != "" {
			details = append(details, "Reason: "+sc.Reason)
		}
	case event.Error != nil:
		kind = "Error"
		details = append(details, "Message: "+event.Error.Message)
		if event.Error.Context != "" {
			details = append(details, "Context: "+event.Error.Context)
		}
	default:
		kind = "Unknown"
	}
	if event.Endpoint != "" && event.Frame == nil {
		details = append(details, "Endpoint: "+event.Endpoint)
	}

	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s\n", ts, shortenConnID(event.ConnectionID), dir, event.Layer, kind)
	for _, d := range details {
		fmt.Fprintf(w, "  %s\n", d)
	}
	fmt.Fprintln(w)
}

func shortenConnID(id string) string {
	switch {
	case id == "":
		return "-"
	case len(id) > 8:
		return id[:8]
	}
	return id
}

// captureStats holds aggregate statistics about a capture file.
type captureStats struct {
	TotalEvents      int
	EventsByLayer    map[log.Layer]int
	EventsByCategory map[log.Category]int
	Connections      map[string]*connStats
	Connects         int
	Errors           int
	Start, End       time.Time
}

type connStats struct {
	FirstSeen  time.Time
	LastSeen   time.Time
	RemoteAddr string
	FramesIn   int
	FramesOut  int
	BytesIn    int
	BytesOut   int
}

func runStats(path string, w io.Writer) error {
	reader, err := log.Open(path, log.Filter{})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &captureStats{
		EventsByLayer:    make(map[log.Layer]int),
		EventsByCategory: make(map[log.Category]int),
		Connections:      make(map[string]*connStats),
	}

	for event, err := range reader.Events() {
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, reader.Header(), stats)
	return nil
}

func (s *captureStats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++

	if s.Start.IsZero() || event.Timestamp.Before(s.Start) {
		s.Start = event.Timestamp
	}
	if event.Timestamp.After(s.End) {
		s.End = event.Timestamp
	}

	if event.Error != nil {
		s.Errors++
	}
	if sc := event.StateChange; sc != nil && sc.NewState == "CONNECTED" {
		s.Connects++
	}

	// Failed dials carry no connection id.
	if event.ConnectionID == "" {
		return
	}
	conn, ok := s.Connections[event.ConnectionID]
	if !ok {
		conn = &connStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
		s.Connections[event.ConnectionID] = conn
	}
	if event.Timestamp.After(conn.LastSeen) {
		conn.LastSeen = event.Timestamp
	}
	if conn.RemoteAddr == "" {
		conn.RemoteAddr = event.RemoteAddr
	}
	if f := event.Frame; f != nil {
		if event.Direction == log.DirectionIn {
			conn.FramesIn++
			conn.BytesIn += f.Size
		} else {
			conn.FramesOut++
			conn.BytesOut += f.Size
		}
	}
}

func printStats(w io.Writer, header log.FileHeader, stats *captureStats) {
	fmt.Fprintf(w, "=== echolink Capture Statistics ===\n\n")

	if header.Magic != "" {
		fmt.Fprintf(w, "Format:     v%d, created %s by %s\n", header.Version, header.Created.Format(time.RFC3339), header.Writer)
	}
	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n", stats.Start.Format(time.RFC3339), stats.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.End.Sub(stats.Start).Round(time.Millisecond))
	}
	fmt.Fprintf(w, "\nTotal Events: %d\n", stats.TotalEvents)

	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)
	fmt.Fprintln(tw, "\nEvents by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerConnection, log.LayerSession} {
		if n := stats.EventsByLayer[layer]; n > 0 {
			fmt.Fprintf(tw, "  %s:\t%d\n", layer, n)
		}
	}
	fmt.Fprintln(tw, "\nEvents by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryError} {
		if n := stats.EventsByCategory[cat]; n > 0 {
			fmt.Fprintf(tw, "  %s:\t%d\n", cat, n)
		}
	}
	tw.Flush()

	fmt.Fprintf(w, "\nConnects:    %d\n", stats.Connects)
	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))

	ids := slices.SortedFunc(maps.Keys(stats.Connections), func(a, b string) int {
		return stats.Connections[a].FirstSeen.Compare(stats.Connections[b].FirstSeen)
	})
	for i, id := range ids {
		if i == 0 {
			fmt.Fprintln(w)
		}
		cs := stats.Connections[id]
		fmt.Fprintf(w, "  [%s] in %d frames/%d bytes, out %d frames/%d bytes, duration %s\n",
			shortenConnID(id), cs.FramesIn, cs.BytesIn, cs.FramesOut, cs.BytesOut,
			cs.LastSeen.Sub(cs.FirstSeen).Round(time.Millisecond))
		if cs.RemoteAddr != "" {
			fmt.Fprintf(w, "           Remote: %s\n", cs.RemoteAddr)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintf(w, "\nErrors: %d\n", stats.Errors)
	}
}
