package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
)

// jsonMode reports whether --format json was requested.
func jsonMode() bool {
	return formatFlag == "json"
}

// outputJSON writes v to stdout as indented JSON.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTable returns a tabwriter set up for simple space-padded columns.
func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func printErrorLine(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

// errf is a small fmt.Errorf alias kept local so command files don't each
// import "fmt" just for this one call.
func errf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
