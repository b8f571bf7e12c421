package email

import (
	"fmt"
	"strings"

	"tradewatch-notifier/pkg/notifier"
)

// bodyStart opens an HTML email document with the shared stylesheet.
func bodyStart(b *strings.Builder) {
	b.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 640px; margin: 0 auto; padding: 20px; background: #fff; }\n")
	b.WriteString(".header { border-bottom: 2px solid #2d7ff9; padding-bottom: 10px; margin-bottom: 20px; }\n")
	b.WriteString(".entry { margin-bottom: 20px; padding-bottom: 15px; border-bottom: 1px solid #ecf0f1; }\n")
	b.WriteString(".entry:last-of-type { border-bottom: none; }\n")
	b.WriteString(".market { color: #2d7ff9; font-weight: 600; }\n")
	b.WriteString(".actor { font-weight: 600; }\n")
	b.WriteString(".amount { color: #1a7f37; }\n")
	b.WriteString(".timestamp { color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString(".tx { color: #7f8c8d; font-size: 0.85em; word-break: break-all; }\n")
	b.WriteString(".footer { margin-top: 20px; padding-top: 10px; border-top: 1px solid #ecf0f1; color: #7f8c8d; font-size: 0.9em; }\n")
	b.WriteString("a { color: #2d7ff9; text-decoration: none; }\n")
	b.WriteString("a:hover { text-decoration: underline; }\n")
	b.WriteString("</style>\n</head>\n<body>\n")
}

func (s *Sender) bodyEnd(b *strings.Builder) {
	b.WriteString("<div class=\"footer\">\n")
	b.WriteString(fmt.Sprintf("<a href=\"%s/manage\">Manage notification settings</a>\n", escapeHTML(s.baseURL)))
	b.WriteString("</div>\n")
	b.WriteString("</body>\n</html>")
}

func (s *Sender) formatWelcomeBody(nickname string) (text, html string) {
	greeting := "Hi"
	if nickname != "" {
		greeting = "Hi " + nickname
	}

	var t strings.Builder
	t.WriteString(greeting + ",\n\n")
	t.WriteString("Email notifications are now enabled for your account.\n")
	t.WriteString("You'll hear about trades on markets you hold, activity by traders you follow, and your own trade receipts.\n\n")
	t.WriteString("Manage your settings: " + s.baseURL + "/manage\n")

	var b strings.Builder
	bodyStart(&b)
	b.WriteString("<div class=\"header\">\n<h2>Notifications enabled</h2>\n</div>\n")
	b.WriteString(fmt.Sprintf("<p>%s,</p>\n", escapeHTML(greeting)))
	b.WriteString("<p>Email notifications are now enabled for your account. You'll hear about trades on markets you hold, activity by traders you follow, and your own trade receipts.</p>\n")
	s.bodyEnd(&b)

	return t.String(), b.String()
}

func (s *Sender) formatActivityBody(ev *notifier.ActivityEvent) (text, html string) {
	verb := notifier.TradeVerb(ev.Kind)
	shares := notifier.FormatUnits(ev.Shares)
	assets := notifier.FormatUnits(ev.Assets)

	var t strings.Builder
	t.WriteString(fmt.Sprintf("%s %s %s shares in %s for %s.\n", ev.SenderLabel, verb, shares, ev.MarketLabel, assets))
	if ev.TxHash != "" {
		t.WriteString("Transaction: " + ev.TxHash + "\n")
	}

	var b strings.Builder
	bodyStart(&b)
	b.WriteString("<div class=\"header\">\n")
	b.WriteString(fmt.Sprintf("<h2>New activity in %s</h2>\n", escapeHTML(ev.MarketLabel)))
	b.WriteString("</div>\n")
	b.WriteString("<div class=\"entry\">\n")
	b.WriteString(fmt.Sprintf("<p><span class=\"actor\">%s</span> %s <span class=\"amount\">%s</span> shares in <span class=\"market\">%s</span> for <span class=\"amount\">%s</span>.</p>\n",
		escapeHTML(ev.SenderLabel), verb, escapeHTML(shares), escapeHTML(ev.MarketLabel), escapeHTML(assets)))
	if !ev.Timestamp.IsZero() {
		b.WriteString(fmt.Sprintf("<p class=\"timestamp\">%s UTC</p>\n", ev.Timestamp.UTC().Format("Jan 2, 2006 at 3:04 PM")))
	}
	if ev.TxHash != "" {
		b.WriteString(fmt.Sprintf("<p class=\"tx\">Tx %s</p>\n", escapeHTML(ev.TxHash)))
	}
	b.WriteString("</div>\n")
	s.bodyEnd(&b)

	return t.String(), b.String()
}

func (s *Sender) formatReceiptBody(r *notifier.TradeReceipt) (text, html string) {
	verb := notifier.TradeVerb(r.Kind)
	shares := notifier.FormatUnits(r.Shares)
	assets := notifier.FormatUnits(r.Assets)

	var t strings.Builder
	t.WriteString(fmt.Sprintf("You %s %s shares in %s for %s.\n", verb, shares, r.MarketLabel, assets))
	if r.TxHash != "" {
		t.WriteString("Transaction: " + r.TxHash + "\n")
	}

	var b strings.Builder
	bodyStart(&b)
	b.WriteString("<div class=\"header\">\n")
	b.WriteString(fmt.Sprintf("<h2>Trade confirmed: %s</h2>\n", escapeHTML(r.MarketLabel)))
	b.WriteString("</div>\n")
	b.WriteString("<div class=\"entry\">\n")
	b.WriteString(fmt.Sprintf("<p>You %s <span class=\"amount\">%s</span> shares in <span class=\"market\">%s</span> for <span class=\"amount\">%s</span>.</p>\n",
		verb, escapeHTML(shares), escapeHTML(r.MarketLabel), escapeHTML(assets)))
	if !r.Timestamp.IsZero() {
		b.WriteString(fmt.Sprintf("<p class=\"timestamp\">%s UTC</p>\n", r.Timestamp.UTC().Format("Jan 2, 2006 at 3:04 PM")))
	}
	if r.TxHash != "" {
		b.WriteString(fmt.Sprintf("<p class=\"tx\">Tx %s</p>\n", escapeHTML(r.TxHash)))
	}
	b.WriteString("</div>\n")
	s.bodyEnd(&b)

	return t.String(), b.String()
}

func (s *Sender) formatDigestBody(receipts []*notifier.TradeReceipt, activity []*notifier.ActivityItem) (text, html string) {
	var t strings.Builder
	t.WriteString(fmt.Sprintf("Daily digest: %d trade receipts, %d activity updates.\n\n", len(receipts), len(activity)))
	for _, r := range receipts {
		t.WriteString(fmt.Sprintf("- You %s %s shares in %s for %s\n",
			notifier.TradeVerb(r.Kind), notifier.FormatUnits(r.Shares), r.MarketLabel, notifier.FormatUnits(r.Assets)))
	}
	for _, a := range activity {
		t.WriteString(fmt.Sprintf("- %s %s %s shares in %s\n",
			a.ActorLabel, notifier.TradeVerb(a.Kind), notifier.FormatUnits(a.Shares), a.MarketLabel))
	}

	var b strings.Builder
	bodyStart(&b)
	b.WriteString("<div class=\"header\">\n<h2>Your daily trading digest</h2>\n</div>\n")
	b.WriteString(fmt.Sprintf("<p>%d trade receipts and %d activity updates since your last digest.</p>\n", len(receipts), len(activity)))

	if len(receipts) > 0 {
		b.WriteString("<h3>Your trades</h3>\n")
		for _, r := range receipts {
			b.WriteString("<div class=\"entry\">\n")
			b.WriteString(fmt.Sprintf("<p>You %s <span class=\"amount\">%s</span> shares in <span class=\"market\">%s</span> for <span class=\"amount\">%s</span>",
				notifier.TradeVerb(r.Kind), escapeHTML(notifier.FormatUnits(r.Shares)), escapeHTML(r.MarketLabel), escapeHTML(notifier.FormatUnits(r.Assets))))
			if !r.Timestamp.IsZero() {
				b.WriteString(fmt.Sprintf(" <span class=\"timestamp\">(%s)</span>", r.Timestamp.UTC().Format("Jan 2")))
			}
			b.WriteString(".</p>\n</div>\n")
		}
	}

	if len(activity) > 0 {
		b.WriteString("<h3>Market activity</h3>\n")
		for _, a := range activity {
			b.WriteString("<div class=\"entry\">\n")
			b.WriteString(fmt.Sprintf("<p><span class=\"actor\">%s</span> %s <span class=\"amount\">%s</span> shares in <span class=\"market\">%s</span>",
				escapeHTML(a.ActorLabel), notifier.TradeVerb(a.Kind), escapeHTML(notifier.FormatUnits(a.Shares)), escapeHTML(a.MarketLabel)))
			if !a.Timestamp.IsZero() {
				b.WriteString(fmt.Sprintf(" <span class=\"timestamp\">(%s)</span>", a.Timestamp.UTC().Format("Jan 2")))
			}
			b.WriteString(".</p>\n</div>\n")
		}
	}

	s.bodyEnd(&b)

	return t.String(), b.String()
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
