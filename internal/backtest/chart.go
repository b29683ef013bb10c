package backtest

import (
	"fmt"
	"strings"
)

// RenderBalanceChart draws the balance column of curve as a width x height
// terminal chart. Longer curves are sampled to fit the width.
func RenderBalanceChart(curve []BalanceRow, width, height int) string {
	if len(curve) == 0 {
		return "No data to display"
	}
	if width < 2 {
		width = 2
	}
	if height < 2 {
		height = 2
	}

	minBalance := curve[0].Balance
	maxBalance := curve[0].Balance
	for _, row := range curve {
		if row.Balance < minBalance {
			minBalance = row.Balance
		}
		if row.Balance > maxBalance {
			maxBalance = row.Balance
		}
	}

	span := maxBalance - minBalance
	if span == 0 {
		span = 1
	}
	minBalance -= span * 0.05
	maxBalance += span * 0.05
	span = maxBalance - minBalance

	grid := make([][]rune, height)
	for i := range grid {
		grid[i] = []rune(strings.Repeat(" ", width))
	}

	columns := width
	if len(curve) < columns {
		columns = len(curve)
	}
	for x := 0; x < columns; x++ {
		idx := x * (len(curve) - 1) / max(columns-1, 1)
		y := int((curve[idx].Balance - minBalance) / span * float64(height-1))
		if y >= 0 && y < height {
			grid[height-1-y][x] = '█'
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Balance %s .. %s (%.2f - %.2f)\n",
		curve[0].DateKey(), curve[len(curve)-1].DateKey(), minBalance, maxBalance)
	sb.WriteString(strings.Repeat("─", width+2) + "\n")
	for _, row := range grid {
		sb.WriteRune('│')
		sb.WriteString(string(row))
		sb.WriteRune('│')
		sb.WriteRune('\n')
	}
	sb.WriteString(strings.Repeat("─", width+2) + "\n")

	return sb.String()
}
