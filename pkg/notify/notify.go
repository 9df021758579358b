// Package notify defines the abstract notification collaborator and the
// pure rendering functions that turn signal data into channel-agnostic
// messages (spec §6.2, §6.4). No channel-specific logic lives here.
package notify

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Message is the fixed-structure rendered output the core hands to a Sink.
type Message struct {
	Title    string
	Plain    string
	HTML     string
	RichText string
}

// Sink is the external notification collaborator (spec §6.2). The
// module's one concrete transport is internal/webhook (Telegram bot).
type Sink interface {
	Dispatch(channelConfig map[string]string, msg Message) error
}

// BuySignalData carries the fields a BUY notification renders from.
type BuySignalData struct {
	Symbol       string
	CurrentPrice decimal.Decimal
	BasePrice    decimal.Decimal
	DropPct      decimal.Decimal
	Timestamp    time.Time
}

// SellSignalData carries the fields a SELL notification renders from.
type SellSignalData struct {
	Symbol     string
	ExitPrice  decimal.Decimal
	EntryPrice decimal.Decimal
	Profit     decimal.Decimal
	ProfitPct  decimal.Decimal
	Timestamp  time.Time
}

// AlertData carries the fields a PRICE_ALERT notification renders from.
type AlertData struct {
	Symbol         string
	DropPct        decimal.Decimal
	AlertThreshold decimal.Decimal
	Timestamp      time.Time
}

// PnLReportData carries the fields a PNL_REPORT notification renders from.
type PnLReportData struct {
	Symbol     string
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	Profit     decimal.Decimal
	ProfitPct  decimal.Decimal
	MonthlyPnL decimal.Decimal
	Timestamp  time.Time
}

func pct(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

// RenderBuySignal renders a BUY notification.
func RenderBuySignal(d BuySignalData) Message {
	title := fmt.Sprintf("BUY %s — drop %s", d.Symbol, pct(d.DropPct.Abs()))
	plain := fmt.Sprintf(
		"%s dropped %s from base price %s to %s at %s",
		d.Symbol, pct(d.DropPct.Abs()), d.BasePrice.StringFixed(1),
		d.CurrentPrice.StringFixed(1), d.Timestamp.Format(time.RFC3339),
	)
	return Message{
		Title:    title,
		Plain:    plain,
		HTML:     "<p>" + plain + "</p>",
		RichText: plain,
	}
}

// RenderSellSignal renders a SELL notification.
func RenderSellSignal(d SellSignalData) Message {
	title := fmt.Sprintf("SELL %s — P&L %s", d.Symbol, d.Profit.StringFixed(2))
	plain := fmt.Sprintf(
		"%s closed at %s (entry %s), profit %s (%s) at %s",
		d.Symbol, d.ExitPrice.StringFixed(1), d.EntryPrice.StringFixed(1),
		d.Profit.StringFixed(2), pct(d.ProfitPct), d.Timestamp.Format(time.RFC3339),
	)
	return Message{
		Title:    title,
		Plain:    plain,
		HTML:     "<p>" + plain + "</p>",
		RichText: plain,
	}
}

// RenderAlert renders a PRICE_ALERT notification.
func RenderAlert(d AlertData) Message {
	title := fmt.Sprintf("ALERT %s — drop %s", d.Symbol, pct(d.DropPct.Abs()))
	plain := fmt.Sprintf(
		"%s drop %s approaching threshold %s at %s",
		d.Symbol, pct(d.DropPct.Abs()), pct(d.AlertThreshold), d.Timestamp.Format(time.RFC3339),
	)
	return Message{
		Title:    title,
		Plain:    plain,
		HTML:     "<p>" + plain + "</p>",
		RichText: plain,
	}
}

// RenderPnLReport renders a PNL_REPORT notification.
func RenderPnLReport(d PnLReportData) Message {
	title := fmt.Sprintf("PNL %s — %s", d.Symbol, d.Profit.StringFixed(2))
	plain := fmt.Sprintf(
		"%s entry %s exit %s profit %s (%s), monthly %s at %s",
		d.Symbol, d.EntryPrice.StringFixed(1), d.ExitPrice.StringFixed(1),
		d.Profit.StringFixed(2), pct(d.ProfitPct), d.MonthlyPnL.StringFixed(2),
		d.Timestamp.Format(time.RFC3339),
	)
	return Message{
		Title:    title,
		Plain:    plain,
		HTML:     "<p>" + plain + "</p>",
		RichText: plain,
	}
}
