package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/berkguzel/iamguard/pkg/types"
)

const NoFindingsMessage = "No over-permissive policies found."

type Printer struct {
	writer io.Writer
}

func New(w io.Writer) *Printer {
	return &Printer{writer: w}
}

// Print writes run in the given format: "text", "table" or "json".
func (p *Printer) Print(run types.ScanRun, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(p.writer)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	case "table":
		p.printHeader(run)
		return p.PrintTable(run.Findings)
	default:
		p.printHeader(run)
		return p.PrintFlagged(run.Findings)
	}
}

// PrintPod writes the scan of the role bound to a pod.
func (p *Printer) PrintPod(rep types.PodReport, format string) error {
	if format == "json" {
		enc := json.NewEncoder(p.writer)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}

	fmt.Fprintf(p.writer, "\n%s Pod: %s (Namespace: %s)\n", bold("→"), rep.PodName, rep.Namespace)
	fmt.Fprintf(p.writer, "  Service Account: %s\n", rep.ServiceAccount)
	fmt.Fprintf(p.writer, "  IAM Role: %s\n\n", rep.IAMRole)

	if format == "table" {
		return p.PrintTable(rep.Result.Entries)
	}
	return p.PrintFlagged(rep.Result.Entries)
}

// PrintFlagged lists every flagged (identity-or-policy, display-name) pair,
// or a single line when there is nothing to report. Error records are listed
// after the findings.
func (p *Printer) PrintFlagged(entries []types.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintf(p.writer, "%s %s\n", checkmark, NoFindingsMessage)
		return nil
	}

	var findings, failures []types.Entry
	for _, e := range entries {
		if e.IsError() {
			failures = append(failures, e)
		} else {
			findings = append(findings, e)
		}
	}

	if len(findings) > 0 {
		fmt.Fprintf(p.writer, "%s Flagged Policies:\n", lock)
		seen := make(map[string]bool)
		for _, e := range findings {
			pair := formatPair(e)
			if seen[pair] {
				continue
			}
			seen[pair] = true
			fmt.Fprintf(p.writer, "%s\n", pair)
		}
	} else {
		fmt.Fprintf(p.writer, "%s %s\n", checkmark, NoFindingsMessage)
	}

	if len(failures) > 0 {
		fmt.Fprintf(p.writer, "\n%s Could not scan:\n", warning)
		for _, e := range failures {
			fmt.Fprintf(p.writer, "%s (%s)\n", formatPair(e), e.Error.Error)
		}
	}
	return nil
}

// PrintTable writes one row per statement finding.
func (p *Printer) PrintTable(entries []types.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintf(p.writer, "%s %s\n", checkmark, NoFindingsMessage)
		return nil
	}

	p.printTableHeader()
	for _, e := range entries {
		if e.IsError() {
			fmt.Fprintf(p.writer, "| %-30s | %-30s | %-4s | %-15s | %-12s | %s %s\n",
				truncateString(e.Subject(), 30),
				truncateString(e.PolicyName(), 30),
				"-",
				"ERROR",
				"-",
				warning,
				e.Error.Error,
			)
			continue
		}

		f := e.Finding
		stmt := "-"
		if f.StatementIndex > 0 {
			stmt = fmt.Sprint(f.StatementIndex)
		}
		fmt.Fprintf(p.writer, "| %-30s | %-30s | %-4s | %-15s | %-12s | %s %s\n",
			truncateString(e.Subject(), 30),
			truncateString(f.PolicyName, 30),
			stmt,
			determineScope(f),
			truncateString(determineConditions(f), 12),
			icon(f),
			formatValue(f.Action),
		)
	}
	p.printSeparator()
	return nil
}

func (p *Printer) printHeader(run types.ScanRun) {
	fmt.Fprintf(p.writer, "Account: %s  Mode: %s  Scanned: %d  Findings: %d  Generated: %s\n\n",
		run.AccountID, run.Mode, run.ScannedPolicies, run.TotalFindings, run.GeneratedAtISO)
}

func (p *Printer) printTableHeader() {
	p.printSeparator()
	fmt.Fprintf(p.writer, "| %-30s | %-30s | %-4s | %-15s | %-12s | %s\n",
		"IDENTITY / POLICY",
		"POLICY NAME",
		"STMT",
		"WILDCARD",
		"CONDITION",
		"ACTION",
	)
	p.printSeparator()
}

func (p *Printer) printSeparator() {
	fmt.Fprintln(p.writer, "+--------------------------------+--------------------------------+------+-----------------+--------------+"+strings.Repeat("-", 20))
}

func truncateString(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
