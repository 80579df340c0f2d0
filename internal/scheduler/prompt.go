package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"tradeloop/internal/core"
)

const (
	dailySystemPrompt = `You are the planning desk for an automated spot trading loop.
Respond with a single JSON object: {"analysis": string, "orders": []}.
The daily plan sets direction only; its orders array must be empty.`

	orderSystemPrompt = `You are the execution desk for an automated spot trading loop.
Respond with a single JSON object: {"analysis": string, "orders": [...]}.
Each order: {"side": "BUY"|"SELL", "kind": "limit"|"stop_limit"|"market",
"limit_price": string, "base_size": string, "stop_price": string (stop_limit only),
"post_only": bool (limit only)}. Propose at most one order; an empty array means hold.`

	recapLimit = 400
)

func buildDailyPrompt(snapshot *core.MarketSnapshot, balances map[string]core.Balance, recaps []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", snapshot.ProductID)
	writeMarketSection(&b, snapshot)
	writeBalanceSection(&b, balances)
	writeRecapSection(&b, "Previous daily plans", recaps)
	b.WriteString("\nWrite today's trading plan for this product.")
	return b.String()
}

func buildOrderPrompt(dailyPlan string, snapshot *core.MarketSnapshot, balances map[string]core.Balance,
	openOrders []core.OpenOrderRecord, recaps []string, previousFailure string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Product: %s\n", snapshot.ProductID)
	writeMarketSection(&b, snapshot)
	writeBalanceSection(&b, balances)

	if len(openOrders) > 0 {
		b.WriteString("\nOpen orders:\n")
		for _, order := range openOrders {
			fmt.Fprintf(&b, "- %s %s @ %s (expires %s)\n",
				order.Side, order.BaseSize.String(), order.LimitPrice.String(),
				order.EndTime.Format(time.RFC3339))
		}
	} else {
		b.WriteString("\nOpen orders: none\n")
	}

	if dailyPlan != "" {
		fmt.Fprintf(&b, "\nToday's plan:\n%s\n", truncateRecap(dailyPlan, 1200))
	}
	writeRecapSection(&b, "Recent cycles", recaps)

	if previousFailure != "" {
		fmt.Fprintf(&b, "\nYour previous proposal this cycle was rejected: %s\nAdjust accordingly.\n", previousFailure)
	}

	b.WriteString("\nDecide the next order for this cycle.")
	return b.String()
}

func writeMarketSection(b *strings.Builder, snapshot *core.MarketSnapshot) {
	fmt.Fprintf(b, "Mid price: %s (bid %s / ask %s)\n",
		snapshot.Mid.String(), snapshot.BestBid.String(), snapshot.BestAsk.String())
	if snapshot.EMAFast != nil && snapshot.EMASlow != nil {
		fmt.Fprintf(b, "EMA12: %s  EMA26: %s\n",
			snapshot.EMAFast.StringFixed(2), snapshot.EMASlow.StringFixed(2))
	}
	if snapshot.RSI != nil {
		fmt.Fprintf(b, "RSI14: %.1f\n", *snapshot.RSI)
	}
}

func writeBalanceSection(b *strings.Builder, balances map[string]core.Balance) {
	if len(balances) == 0 {
		return
	}
	b.WriteString("\nBalances:\n")
	for _, currency := range sortedCurrencies(balances) {
		balance := balances[currency]
		fmt.Fprintf(b, "- %s: %s available, %s on hold\n",
			currency, balance.Available.String(), balance.Hold.String())
	}
}

func writeRecapSection(b *strings.Builder, title string, recaps []string) {
	if len(recaps) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s (newest first):\n", title)
	for _, recap := range recaps {
		fmt.Fprintf(b, "- %s\n", truncateRecap(recap, recapLimit))
	}
}

func sortedCurrencies(balances map[string]core.Balance) []string {
	currencies := make([]string, 0, len(balances))
	for currency := range balances {
		currencies = append(currencies, currency)
	}
	sort.Strings(currencies)
	return currencies
}

func truncateRecap(s string, limit int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
