package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"investments/internal/app"
	"investments/internal/notify"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00CED1"))
	cellStyle   = lipgloss.NewStyle().PaddingRight(2)
	boxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#4D4C57")).
			Padding(0, 1)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptConfirm(label string) (bool, error) {
	fmt.Printf("%s [y/N]: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func money(d decimal.Decimal) string {
	return notify.FormatFull(d)
}

func colorizeMoney(d decimal.Decimal) string {
	text := money(d)
	switch {
	case d.IsPositive():
		return success.Sprint("+" + text)
	case d.IsNegative():
		return danger.Sprint(text)
	default:
		return neutral.Sprint(text)
	}
}

func limitText(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d", n)
}

func capText(d decimal.Decimal) string {
	if !d.IsPositive() {
		return "unlimited"
	}
	return money(d)
}

func onOff(v bool) string {
	if v {
		return success.Sprint("on")
	}
	return neutral.Sprint("off")
}

func holdingsTable(v app.ProfileView) string {
	if len(v.Investments) == 0 {
		return neutral.Sprint("No investments yet.")
	}
	rows := []string{lipgloss.JoinHorizontal(lipgloss.Top,
		cellStyle.Width(5).Render(headerStyle.Render("#")),
		cellStyle.Width(18).Render(headerStyle.Render("INVESTED")),
		cellStyle.Width(16).Render(headerStyle.Render("PROFIT")),
	)}
	for i, h := range v.Investments {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top,
			cellStyle.Width(5).Render(fmt.Sprintf("%d", i+1)),
			cellStyle.Width(18).Render(money(h.Invested)),
			cellStyle.Width(16).Render(colorizeMoney(h.Profit)),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func profileSummary(v app.ProfileView) string {
	lines := []string{
		fmt.Sprintf("Slots:          %d / %s", v.Count, limitText(v.MaxSlots)),
		fmt.Sprintf("Invested:       %s / %s", money(v.TotalInvested), capText(v.MaxTotal)),
		fmt.Sprintf("Profit:         %s", colorizeMoney(v.TotalProfit)),
		fmt.Sprintf("Rate:           %s%% every %d min (x%s)", v.RatePercent.String(), v.IntervalMinutes, v.Multiplier.String()),
		fmt.Sprintf("Next payout:    %s", colorizeMoney(v.Projected)),
		fmt.Sprintf("Balance:        %s", money(v.Balance)),
		fmt.Sprintf("Auto-collect:   %s", onOff(v.AutoCollect)),
		fmt.Sprintf("Notifications:  %s", onOff(v.Notifications)),
		fmt.Sprintf("Accruing:       %s", onOff(v.Active)),
	}
	return strings.Join(lines, "\n")
}

func renderProfile(v app.ProfileView) {
	accent.Printf("\n== INVESTMENTS %s ==\n", v.Account)
	fmt.Println(boxStyle.Render(profileSummary(v)))
	fmt.Println(holdingsTable(v))
	fmt.Println()
}

func stringField(raw map[string]any, key string) string {
	if v, ok := raw[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

func decimalField(raw map[string]any, key string) decimal.Decimal {
	d, err := decimal.NewFromString(stringField(raw, key))
	if err != nil {
		return decimal.Zero
	}
	return d
}
