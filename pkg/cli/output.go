package cli

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"mercator-hq/packlimit/pkg/limits"
)

// OutputFormat represents the output format for command results.
type OutputFormat string

const (
	// FormatText is the fixed-width table (default).
	FormatText OutputFormat = "text"
	// FormatJSON is JSON output.
	FormatJSON OutputFormat = "json"
	// FormatCSV is CSV output.
	FormatCSV OutputFormat = "csv"
)

// ParseOutputFormat validates a --format flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected text, json or csv)", s)
	}
}

// Formatter writes a limiter listing.
type Formatter interface {
	FormatTo(w io.Writer, entries []limits.ListEntry) error
}

// TextFormatter prints the administrative table.
type TextFormatter struct{}

// FormatTo writes entries as a table.
func (f *TextFormatter) FormatTo(w io.Writer, entries []limits.ListEntry) error {
	return limits.WriteTable(w, entries)
}

// JSONFormatter formats output as JSON.
type JSONFormatter struct {
	Indent bool
}

// FormatTo writes entries as a JSON array.
func (f *JSONFormatter) FormatTo(w io.Writer, entries []limits.ListEntry) error {
	encoder := json.NewEncoder(w)
	if f.Indent {
		encoder.SetIndent("", "  ")
	}
	if entries == nil {
		entries = []limits.ListEntry{}
	}
	return encoder.Encode(entries)
}

// CSVFormatter formats output as CSV with a header row.
type CSVFormatter struct{}

var csvHeader = []string{"account", "permits_per_hour", "available_permits", "used_permits", "replenish_in"}

// FormatTo writes entries as CSV.
func (f *CSVFormatter) FormatTo(w io.Writer, entries []limits.ListEntry) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{e.AccountID, e.PermitsPerHour, e.AvailablePermits, e.UsedPermits, e.ReplenishIn}
		if err := csvWriter.Write(row); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// NewFormatter creates a new formatter for the specified format.
func NewFormatter(format OutputFormat) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatCSV:
		return &CSVFormatter{}
	default:
		return &TextFormatter{}
	}
}
