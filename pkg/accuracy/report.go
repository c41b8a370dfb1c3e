// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package accuracy

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)
	oddRowStyle = lipgloss.NewStyle().Faint(false).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).
			PaddingLeft(1).PaddingRight(1)
)

// MappingTable renders the cluster to label mapping of r as a table, one row per cluster,
// followed by the accuracies.
func MappingTable(r *Result) string {
	table := lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row < 0 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				return s.Align(lipgloss.Left)
			}
			return s.Align(lipgloss.Right)
		}).
		Headers("cluster", "label", "votes", "rows", "purity")
	for _, entry := range r.Entries {
		table.Row(
			strconv.Itoa(entry.Prediction),
			strconv.Itoa(entry.Label),
			strconv.Itoa(entry.Size),
			strconv.Itoa(entry.ClusterRows),
			fmt.Sprintf("%.1f%%", 100*float64(entry.Size)/float64(entry.ClusterRows)),
		)
	}
	return fmt.Sprintf("%s\nacc=%.4f informational acc=%.4f (%d labels reached, %d rows)",
		table.Render(), r.RawAccuracy, r.InformationalAccuracy, r.NumMappedLabels(), r.NumExploded)
}
