package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pterm/pterm"

	"github.com/bjaus/dumpload"
)

// printSummary renders the run summary as a table.
func printSummary(w io.Writer, s *dumpload.Summary) error {
	if s == nil {
		return nil
	}
	n := func(v int64) string { return strconv.FormatInt(v, 10) }

	data := pterm.TableData{
		{"Field", "Value"},
		{"selector", s.Selector},
		{"download id", s.DownloadID},
		{"state", string(s.State)},
		{"scanned", n(s.Scanned)},
		{"kept", n(s.Kept)},
		{"skipped", fmt.Sprintf("%d (malformed %d, rejected %d)", s.Skipped, s.Malformed, s.Rejected)},
		{"batches delivered", n(s.BatchesDelivered)},
		{"records delivered", n(s.RecordsDelivered)},
		{"last batch index", n(s.LastBatchIndex)},
		{"retries", n(s.Retries)},
		{"download attempts", strconv.Itoa(s.DownloadAttempts)},
		{"elapsed", s.Elapsed.String()},
	}
	if s.SessionID != "" {
		data = append(data, []string{"session id", s.SessionID})
	}
	if s.Error != "" {
		data = append(data, []string{"error", s.Error})
	}

	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
