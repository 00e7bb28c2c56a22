// Package receipt formats and prints point-of-sale receipts and put-aside
// tickets on an ESC/POS thermal printer.
package receipt

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"
)

// Layout constants for a 80mm head at the default font: 48 printable
// columns, quantity column at 23, price column at 35.
const (
	lineWidth = 48
	qtyCol    = 23
	priceCol  = 35

	// put-aside tickets use the narrow layout
	putAsideWidth = 32
	wrapWidth     = 30
)

// Item is a line item on a receipt. UnitPrice is a decimal string such as
// "12.50"; totals are computed in cents to avoid float drift.
type Item struct {
	Name      string
	Quantity  int
	UnitPrice string
}

// Receipt is a full sale ticket.
type Receipt struct {
	StoreAddress1 string
	StoreAddress2 string
	StorePhone    string
	StoreVAT      string
	StoreSocial   string
	StoreWebsite  string
	Items         []Item
	Payments      []string
	Barcode       string
	CreatedAt     time.Time
}

// PutAside is a reservation ticket for a product held at the counter.
type PutAside struct {
	CustomerName   string
	CustomerPhone  string // optional
	ProductName    string
	ProductBarcode string // optional
	Quantity       int
	OrderBarcode   string // e.g. CMD-2024-001234
	OrderDate      string // e.g. 15/01/2024
}

// Total sums the items in cents and renders "%.2f".
func (r Receipt) Total() string {
	var totalCents int
	for _, it := range r.Items {
		var euros, cents int
		_, _ = fmt.Sscanf(it.UnitPrice, "%d.%d", &euros, &cents)
		totalCents += (euros*100 + cents) * it.Quantity
	}
	return fmt.Sprintf("%0.2f", float64(totalCents)/100.0)
}

// withEnvOverrides fills the store identity block from STORE_* environment
// variables when present, so the agent host owns the letterhead.
func (r Receipt) withEnvOverrides() Receipt {
	r.StoreAddress1 = envOrDefault("STORE_ADDRESS_LINE1", r.StoreAddress1)
	r.StoreAddress2 = envOrDefault("STORE_ADDRESS_LINE2", r.StoreAddress2)
	r.StorePhone = envOrDefault("STORE_PHONE", r.StorePhone)
	r.StoreVAT = envOrDefault("STORE_VAT_NUMBER", r.StoreVAT)
	r.StoreSocial = envOrDefault("STORE_SOCIAL_HANDLE", r.StoreSocial)
	r.StoreWebsite = envOrDefault("STORE_WEBSITE", r.StoreWebsite)
	return r
}

// columnHeader is the bold table header above the item lines.
func columnHeader() string {
	h := "ARTICLE"
	h += spaces(qtyCol-len(h)) + "QTE"
	h += spaces(priceCol-(qtyCol+len("QTE"))) + "PRIX"
	return h
}

// itemLine lays out one item: name truncated at 22, quantity %3d, price %6s.
func itemLine(it Item) string {
	name := it.Name
	if len(name) > 22 {
		name = name[:22]
	}
	line := name
	line += spaces(qtyCol - len(line))
	line += fmt.Sprintf("%3d", it.Quantity)
	line += spaces(priceCol - len(line))
	line += fmt.Sprintf("%6s", it.UnitPrice)
	return line
}

// wrapWords breaks s on spaces into lines no longer than width. A word
// longer than width is cut at width.
func wrapWords(s string, width int) []string {
	var lines []string
	for len(s) > 0 {
		if len(s) <= width {
			lines = append(lines, s)
			break
		}
		cut := width
		for i := width; i > 0; i-- {
			if s[i] == ' ' {
				cut = i
				break
			}
		}
		lines = append(lines, s[:cut])
		s = strings.TrimLeft(s[cut:], " ")
	}
	return lines
}

func spaces(n int) string {
	if n <= 0 {
		return ""
	}
	return fmt.Sprintf("%*s", n, "")
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// Preview renders the receipt as plain text for logs and dry runs.
func Preview(r Receipt) string {
	r = r.withEnvOverrides()
	var b bytes.Buffer
	b.WriteString("=== RECEIPT PREVIEW ===\n")
	b.WriteString(r.StoreAddress1 + "\n")
	b.WriteString(r.StoreAddress2 + "\n")
	b.WriteString("Tel: " + r.StorePhone + "\n")
	b.WriteString("TVA: " + r.StoreVAT + "\n")
	b.WriteString("Ticket: " + r.Barcode + "\n")
	b.WriteString(columnHeader() + "\n")
	for _, it := range r.Items {
		b.WriteString(itemLine(it) + "\n")
	}
	b.WriteString("TOTAL: " + r.Total() + " EUR\n")
	return b.String()
}
