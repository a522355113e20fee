// Package report prints progress lines, failure diagnostics and summaries
// for the replcheck commands. Color is only used when the output is a
// terminal.
package report
