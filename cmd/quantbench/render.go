package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"quantbench/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	gainStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

var boxStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color("8")).
	Padding(0, 1)

func statusStyle(s domain.RunStatus) lipgloss.Style {
	switch s {
	case domain.StatusCompleted:
		return gainStyle.Bold(true)
	case domain.StatusFailed:
		return errorStyle
	default:
		return lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	}
}

func signed(v float64, text string) string {
	switch {
	case v > 0:
		return gainStyle.Render(text)
	case v < 0:
		return lossStyle.Render(text)
	}
	return valueStyle.Render(text)
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// renderResult formats a result as a summary box followed by up to
// maxTrades trades.
func renderResult(res *domain.BacktestResult, maxTrades int) string {
	var b strings.Builder

	header := titleStyle.Render(res.Symbol)
	if res.StrategyName != "" {
		header += " " + dimStyle.Render(res.StrategyName)
	}
	header += "  " + statusStyle(res.Status).Render(string(res.Status))

	rows := [][2]string{}
	if res.ID != "" {
		rows = append(rows, [2]string{"id", valueStyle.Render(res.ID)})
	}
	rows = append(rows, [2]string{"bars", valueStyle.Render(strconv.Itoa(res.BarCount))})
	if !res.StartDate.IsZero() {
		rows = append(rows, [2]string{"range", valueStyle.Render(
			res.StartDate.Format("2006-01-02") + " .. " + res.EndDate.Format("2006-01-02"))})
	}
	if res.ErrorMessage != "" {
		rows = append(rows, [2]string{"error", errorStyle.Render(res.ErrorMessage)})
	}
	if m := res.Metrics; m != nil {
		rows = append(rows,
			[2]string{"final value", valueStyle.Render(fmt.Sprintf("%.2f", m.FinalValue))},
			[2]string{"return", signed(m.TotalReturn, fmt.Sprintf("%+.2f (%+.2f%%)", m.TotalReturn, m.TotalReturnPct))},
			[2]string{"sharpe", valueStyle.Render(fmt.Sprintf("%.3f", m.SharpeRatio))},
			[2]string{"max drawdown", lossStyle.Render(fmt.Sprintf("%.2f%%", m.MaxDrawdownPct))},
			[2]string{"trades", valueStyle.Render(fmt.Sprintf("%d (%d won, %d lost)", m.TotalTrades, m.WinningTrades, m.LosingTrades))},
			[2]string{"win rate", valueStyle.Render(fmt.Sprintf("%.1f%%", m.WinRate))},
			[2]string{"avg win/loss", signed(m.AvgWin, fmt.Sprintf("%.2f", m.AvgWin)) + " / " + signed(m.AvgLoss, fmt.Sprintf("%.2f", m.AvgLoss))},
			[2]string{"profit factor", valueStyle.Render(fmt.Sprintf("%.2f", m.ProfitFactor))},
		)
	}

	var body strings.Builder
	body.WriteString(header + "\n")
	for _, r := range rows {
		body.WriteString(labelStyle.Render(fmt.Sprintf("%-14s", r[0])) + r[1] + "\n")
	}
	b.WriteString(boxStyle.Render(strings.TrimRight(body.String(), "\n")))
	b.WriteString("\n")

	if len(res.Trades) > 0 && maxTrades > 0 {
		b.WriteString(renderTrades(res.Trades, maxTrades))
	}
	return b.String()
}

func renderTrades(trades []domain.Trade, max int) string {
	var b strings.Builder
	b.WriteString(labelStyle.Render(fmt.Sprintf("%-12s %-5s %10s %8s %12s  %s", "date", "side", "price", "shares", "profit", "reason")) + "\n")
	shown := trades
	if len(shown) > max {
		shown = shown[:max]
	}
	for _, t := range shown {
		profit := fmt.Sprintf("%12s", "")
		if t.Action == domain.ActionSell {
			profit = signed(t.Profit, fmt.Sprintf("%12.2f", t.Profit))
		}
		fmt.Fprintf(&b, "%-12s %-5s %10.2f %8d %s  %s\n",
			t.Timestamp.Format("2006-01-02"), t.Action, t.Price, t.Shares, profit, dimStyle.Render(string(t.Reason)))
	}
	if len(trades) > len(shown) {
		b.WriteString(dimStyle.Render(fmt.Sprintf("... %d more trades", len(trades)-len(shown))) + "\n")
	}
	return b.String()
}

func renderList(list []domain.BacktestResult) string {
	if len(list) == 0 {
		return dimStyle.Render("no backtests") + "\n"
	}
	var b strings.Builder
	b.WriteString(labelStyle.Render(fmt.Sprintf("%-36s  %-8s %-10s %-20s %10s", "id", "symbol", "status", "created", "return %")) + "\n")
	for _, r := range list {
		ret := fmt.Sprintf("%10s", "-")
		if r.Metrics != nil {
			ret = signed(r.Metrics.TotalReturnPct, fmt.Sprintf("%+10.2f", r.Metrics.TotalReturnPct))
		}
		fmt.Fprintf(&b, "%-36s  %-8s %s %-20s %s\n",
			r.ID, r.Symbol, statusStyle(r.Status).Render(fmt.Sprintf("%-10s", r.Status)),
			r.CreatedAt.Format("2006-01-02 15:04:05"), ret)
	}
	return b.String()
}
