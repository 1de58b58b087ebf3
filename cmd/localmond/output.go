package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/timfallmk/node-local-monitor/internal/config"
	"github.com/timfallmk/node-local-monitor/internal/node"
	"github.com/timfallmk/node-local-monitor/internal/observability"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	statusStyles = map[observability.CapacityStatus]lipgloss.Style{
		observability.CapacityNormal:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		observability.CapacityWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		observability.CapacityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}

	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

type probeReport struct {
	Disks  []observability.DiskCapacity `json:"disks"`
	Status observability.CapacityStatus `json:"status,omitempty"`
	Failed []probeFailure               `json:"failed_paths,omitempty"`
}

type probeFailure struct {
	Path  string `json:"path"`
	Kind  string `json:"kind"`
	Error string `json:"error,omitempty"`
}

// runProbe performs a single refresh of the configured paths and renders
// the result. A refresh failure is rendered and returned.
func runProbe(ctx context.Context, w io.Writer, cfg *config.Config, asJSON bool, opts ...node.Option) error {
	monitor := node.NewLocalMonitor(cfg.MonitoredPaths(), opts...)
	refreshErr := monitor.Refresh(ctx)

	thresholds := observability.Thresholds{
		MinFreeBytes:           cfg.Thresholds.MinFreeBytes,
		MinFreePercentWarning:  cfg.Thresholds.MinFreePercentWarning,
		MinFreePercentCritical: cfg.Thresholds.MinFreePercentCritical,
	}

	report := probeReport{Disks: observability.Classify(monitor.Current(), thresholds)}
	if refreshErr == nil {
		report.Status = observability.Worst(report.Disks)
	}

	var rf *node.RefreshFailure
	if errors.As(refreshErr, &rf) {
		for _, pf := range rf.Failures {
			f := probeFailure{Path: pf.Path, Kind: string(pf.Kind)}
			if pf.Err != nil {
				f.Error = pf.Err.Error()
			}
			report.Failed = append(report.Failed, f)
		}
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		return refreshErr
	}

	if refreshErr != nil && rf == nil {
		return refreshErr
	}

	renderProbeTable(w, report)
	return refreshErr
}

func renderProbeTable(w io.Writer, report probeReport) {
	if len(report.Failed) > 0 {
		rows := make([][]string, len(report.Failed))
		for i, f := range report.Failed {
			rows[i] = []string{f.Path, failureStyle.Render(strings.ToUpper(f.Kind)), f.Error}
		}
		fmt.Fprintln(w, newTable([]string{"PATH", "FAILURE", "ERROR"}, rows))
		return
	}

	rows := make([][]string, len(report.Disks))
	for i, d := range report.Disks {
		rows[i] = []string{
			d.Path,
			formatBytes(d.Total),
			formatBytes(d.Free),
			fmt.Sprintf("%.1f%%", d.FreePercent),
			statusStyles[d.Status].Render(strings.ToUpper(string(d.Status))),
		}
	}
	fmt.Fprintln(w, newTable([]string{"PATH", "TOTAL", "FREE", "FREE %", "STATUS"}, rows))
}

func newTable(headers []string, rows [][]string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...)
}

func renderStatus(w io.Writer, cfg *config.Config, status string, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"service": cfg.Daemon.Name,
			"status":  status,
			"paths":   cfg.MonitoredPaths(),
			"api":     cfg.API.Listen,
		})
	}

	rows := [][]string{
		{"service", cfg.Daemon.Name},
		{"status", status},
		{"paths", strings.Join(cfg.MonitoredPaths(), ", ")},
		{"api", cfg.API.Listen},
	}
	_, err := fmt.Fprintln(w, newTable([]string{"KEY", "VALUE"}, rows))
	return err
}

// formatBytes renders n with a binary unit suffix.
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
