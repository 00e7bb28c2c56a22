package receipt

import (
	"fmt"
	"image"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/storeprint/print-agent/internal/escpos"
)

// charTablePC858 carries the Euro sign plus western accents on Epson
// firmware (ESC t 0x13).
const charTablePC858 = 0x13

// Printer renders receipts on an ESC/POS device. Device accepts the same
// specs as escpos.Open ("/dev/usb/lp0", "usb:04b8:0e28", "tcp:host:9100",
// "serial:/dev/ttyUSB0").
type Printer struct {
	Device string
	// Delay is the pause after each chunk written to a character device.
	// The TM-T20III drops bytes without it.
	Delay time.Duration
	// Logo is printed centered above the letterhead when set.
	Logo image.Image
	// QRContent, when set, is printed as a QR code above the barcode.
	QRContent string
	Logger    *zap.Logger
}

// NewPrinter returns a Printer for the given device with the pacing delay
// the TM-T20III needs.
func NewPrinter(device string) *Printer {
	return &Printer{
		Device: device,
		Delay:  50 * time.Millisecond,
		Logger: zap.NewNop(),
	}
}

func (p *Printer) open() (*escpos.Printer, error) {
	esc, err := escpos.Open(p.Device, p.Delay)
	if err != nil {
		return nil, fmt.Errorf("open printer %s: %w", p.Device, err)
	}
	esc.Init()
	time.Sleep(200 * time.Millisecond)
	return esc, nil
}

// PrintReceipt prints a full sale ticket: letterhead, item table, total,
// payments, footer and a CODE128 ticket barcode. A barcode failure is
// logged and does not abort the job; the paper is always cut.
func (p *Printer) PrintReceipt(r Receipt) error {
	r = r.withEnvOverrides()

	esc, err := p.open()
	if err != nil {
		return err
	}
	defer esc.Close()

	esc.SelectCharTable(charTablePC858)

	if p.Logo != nil {
		if err := esc.PrintImage(p.Logo); err != nil {
			p.logger().Warn("logo print failed", zap.Error(err))
		}
		esc.Linefeed()
	}

	esc.SetAlign("center")
	esc.Text(r.StoreAddress1 + "\r\n")
	esc.Text(r.StoreAddress2 + "\r\n")
	esc.Text("Tel: " + r.StorePhone + "\r\n")
	esc.Text("TVA: " + r.StoreVAT + "\r\n")
	esc.Text("\r\n")

	esc.SetAlign("left")
	when := r.CreatedAt
	if when.IsZero() {
		when = time.Now()
	}
	esc.Text("Le " + when.Format("02/01/2006 a 15:04") + "\r\n")
	esc.Text("Ticket: " + r.Barcode + "\r\n")
	esc.Text("\r\n")

	esc.SetEmphasize(1)
	esc.Text(columnHeader() + "\r\n")
	esc.SetEmphasize(0)
	esc.Text(separator() + "\r\n")

	for _, it := range r.Items {
		esc.Text(itemLine(it) + "\r\n")
	}

	esc.Text(separator() + "\r\n")
	esc.SetAlign("right")
	esc.SetEmphasize(1)
	esc.Text("TOTAL: " + r.Total() + " EUR\r\n")
	esc.SetEmphasize(0)
	esc.Text("\r\n")

	esc.SetAlign("center")
	for _, payment := range r.Payments {
		esc.Text(payment + "\r\n")
	}
	esc.Text("\r\n")
	esc.Text("MERCI DE VOTRE VISITE !\r\n")
	esc.Text(r.StoreSocial + "\r\n")
	esc.Text(r.StoreWebsite + "\r\n")
	esc.Text("\r\n")

	if p.QRContent != "" {
		if err := esc.PrintQR(p.QRContent, 0); err != nil {
			p.logger().Warn("qr print failed", zap.Error(err))
		}
		esc.Text("\r\n")
	}

	if r.Barcode != "" {
		time.Sleep(100 * time.Millisecond)
		err := esc.Barcode128(r.Barcode, escpos.BarcodeOptions{
			Height: 100,
			Width:  3,
			HRI:    escpos.HRIBelow,
		})
		if err != nil {
			p.logger().Warn("barcode print failed", zap.Error(err))
		}
		time.Sleep(200 * time.Millisecond)
	}

	esc.Text("\r\n\r\n")
	esc.Cut()
	return nil
}

// PrintPutAside prints a reservation ticket on the narrow layout, with the
// customer and product blocks and the order barcode.
func (p *Printer) PrintPutAside(pa PutAside) error {
	esc, err := p.open()
	if err != nil {
		return err
	}
	defer esc.Close()

	esc.SelectCharTable(charTablePC858)

	esc.SetAlign("center")
	esc.SetEmphasize(1)
	esc.Text("MISE DE COTE\r\n")
	esc.SetEmphasize(0)
	esc.Text(strings.Repeat("-", putAsideWidth) + "\r\n")
	esc.Text("\r\n")

	esc.SetAlign("left")
	esc.SetEmphasize(1)
	esc.Text("CLIENT\r\n")
	esc.SetEmphasize(0)
	for _, line := range wrapWords(pa.CustomerName, wrapWidth) {
		esc.Text(line + "\r\n")
	}
	if pa.CustomerPhone != "" {
		esc.Text(pa.CustomerPhone + "\r\n")
	}
	esc.Text("\r\n")

	esc.SetEmphasize(1)
	esc.Text("ARTICLE\r\n")
	esc.SetEmphasize(0)
	for _, line := range wrapWords(pa.ProductName, wrapWidth) {
		esc.Text(line + "\r\n")
	}
	if pa.Quantity > 1 {
		esc.Text(fmt.Sprintf("Quantite: %d\r\n", pa.Quantity))
	}
	if pa.ProductBarcode != "" {
		esc.Text("Ref: " + pa.ProductBarcode + "\r\n")
	}
	esc.Text("\r\n")

	if pa.OrderDate != "" {
		esc.Text("Le " + pa.OrderDate + "\r\n")
		esc.Text("\r\n")
	}

	if pa.OrderBarcode != "" {
		esc.SetAlign("center")
		time.Sleep(100 * time.Millisecond)
		err := esc.Barcode128(pa.OrderBarcode, escpos.BarcodeOptions{
			Height: 80,
			Width:  2,
			HRI:    escpos.HRIBelow,
		})
		if err != nil {
			p.logger().Warn("barcode print failed", zap.Error(err))
		}
		time.Sleep(200 * time.Millisecond)
	}

	esc.Text("\r\n\r\n")
	esc.Cut()
	return nil
}

// PrintConnectionTest prints a short banner to verify the device path and
// pacing settings.
func (p *Printer) PrintConnectionTest() error {
	esc, err := p.open()
	if err != nil {
		return err
	}
	defer esc.Close()

	esc.SetAlign("center")
	esc.SetEmphasize(1)
	esc.Text("TEST IMPRESSION\r\n")
	esc.SetEmphasize(0)
	esc.Text(time.Now().Format("02/01/2006 15:04:05") + "\r\n")
	esc.SetAlign("left")
	for i := 1; i <= 3; i++ {
		esc.Text(fmt.Sprintf("Ligne %d\r\n", i))
	}
	esc.Text("\r\n\r\n")
	esc.Cut()
	return nil
}

// OpenDrawer fires the cash drawer pulse without printing.
func (p *Printer) OpenDrawer() error {
	esc, err := p.open()
	if err != nil {
		return err
	}
	defer esc.Close()
	return esc.Cash()
}

func (p *Printer) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop()
}

func separator() string {
	return strings.Repeat("-", lineWidth)
}

// SampleReceipt is the fixture used by the receipt-test command.
func SampleReceipt() Receipt {
	return Receipt{
		StoreAddress1: "LA BOUTIQUE",
		StoreAddress2: "12 rue du Commerce, 75011 Paris",
		StorePhone:    "01 42 00 00 00",
		StoreVAT:      "FR 00 123456789",
		StoreSocial:   "@laboutique",
		StoreWebsite:  "www.laboutique.example",
		Items: []Item{
			{Name: "Carte postale chat", Quantity: 2, UnitPrice: "2.50"},
			{Name: "Badge 38mm", Quantity: 1, UnitPrice: "1.95"},
			{Name: "Planche stickers A6", Quantity: 1, UnitPrice: "4.00"},
			{Name: "Tote bag coton bio", Quantity: 1, UnitPrice: "6.50"},
		},
		Payments:  []string{"CB: 17.45 EUR"},
		Barcode:   "TKT" + time.Now().Format("20060102150405"),
		CreatedAt: time.Now(),
	}
}
