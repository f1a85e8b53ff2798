package cryptopay

import (
	"fmt"
	"strings"
)

// BuildNotification renders the Telegram message text for an invoice update.
// The text uses Telegram HTML parse mode, so the status is bolded.
func BuildNotification(inv Invoice) string {
	switch inv.Status {
	case StatusPaid:
		if inv.Amount != "" && inv.Asset != "" {
			return fmt.Sprintf("✅ Your payment of %s %s (invoice #%d) has been received!", inv.Amount, inv.Asset, inv.InvoiceID)
		}
		return fmt.Sprintf("✅ Your payment (invoice #%d) has been received!", inv.InvoiceID)
	case StatusExpired:
		return fmt.Sprintf("⌛️ Your payment (invoice #%d) has expired.", inv.InvoiceID)
	default:
		return fmt.Sprintf("Your payment status (invoice #%d) changed to <b>%s</b>.", inv.InvoiceID, strings.ToUpper(inv.Status))
	}
}
