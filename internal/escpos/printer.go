// Package escpos drives ESC/POS thermal receipt printers over raw device
// files, serial ports, USB bulk endpoints or LPD print servers.
package escpos

import (
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

// Printer wraps sending ESC-POS commands to a Transport.
type Printer struct {
	t Transport

	// font metrics
	width, height byte

	// state toggles ESC[char]
	underline  byte
	emphasize  byte
	upsidedown byte
	rotate     byte

	// state toggles GS[char]
	reverse, smooth byte

	sync.Mutex
}

// NewPrinter creates a printer over the given connection. Network
// connections to port 515 are staged through an LPD job; anything else is
// raw passthrough.
func NewPrinter(w io.ReadWriter) (*Printer, error) {
	var transport Transport

	if conn, ok := w.(net.Conn); ok {
		addr := conn.RemoteAddr().String()
		if strings.HasSuffix(addr, ":515") {
			transport = NewLPDTransport(conn, "lp")
		} else {
			transport = &RawTransport{conn: conn}
		}
	} else if rc, ok := w.(io.ReadWriteCloser); ok {
		transport = &RawTransport{conn: rc}
	} else {
		transport = &RawTransport{conn: nopCloser{w}}
	}

	return newPrinter(transport), nil
}

func newPrinter(t Transport) *Printer {
	return &Printer{t: t, width: 1, height: 1}
}

// ReadStatus polls the realtime online status (DLE EOT 1). Returns true when
// the printer reports itself online.
func (p *Printer) ReadStatus() bool {
	p.t.Write([]byte{0x10, 0x04, 0x01})
	time.Sleep(1 * time.Second)
	buf := make([]byte, 1)
	n, err := p.t.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	maskOffline := byte(8)
	return (buf[0] & maskOffline) == 0
}

// Reset clears the style state without touching the device.
func (p *Printer) Reset() {
	p.width = 1
	p.height = 1

	p.underline = 0
	p.emphasize = 0
	p.upsidedown = 0
	p.rotate = 0

	p.reverse = 0
	p.smooth = 0
}

func (p *Printer) Close() error {
	return p.t.Close()
}

func (p *Printer) Write(buf []byte) (int, error) {
	return p.t.Write(buf)
}

// Text folds accents to the active code page and writes the string.
func (p *Printer) Text(s string) error {
	_, err := p.t.Write([]byte(foldAccents(s)))
	return err
}

// Init resets the state of the printer and writes the initialize code.
func (p *Printer) Init() {
	p.Reset()
	p.t.Write([]byte("\x1B@")) // ESC @
}

// SelectCharTable selects the character code table (ESC t n).
func (p *Printer) SelectCharTable(n byte) {
	p.t.Write([]byte{0x1b, 't', n})
}

// Cut performs a full cut, falling back to the legacy function B command on
// firmwares that reject GS V 1.
func (p *Printer) Cut() {
	if _, err := p.t.Write([]byte{0x1d, 'V', 1}); err != nil {
		p.t.Write([]byte("\x1DVA0"))
	}
}

// Cash fires the cash drawer kick-out connector.
func (p *Printer) Cash() error {
	_, err := p.t.Write([]byte{0x1b, 0x70, 0x00, 0x19, 0xfa})
	return err
}

func (p *Printer) Linefeed() {
	p.t.Write([]byte("\n"))
}

func (p *Printer) FormfeedN(n int) {
	p.t.Write([]byte(fmt.Sprintf("\x1Bd%c", n)))
}

func (p *Printer) Formfeed() {
	p.FormfeedN(1)
}

func (p *Printer) SendFontSize() {
	p.t.Write([]byte(fmt.Sprintf("\x1D!%c", ((p.width-1)<<4)|(p.height-1))))
}

// SetFontSize sets the character scale, 1..8 in both axes.
func (p *Printer) SetFontSize(width, height byte) error {
	if width == 0 || height == 0 || width > 8 || height > 8 {
		return fmt.Errorf("invalid font size %dx%d", width, height)
	}
	p.width, p.height = width, height
	p.SendFontSize()
	return nil
}

func (p *Printer) SendUnderline() {
	p.t.Write([]byte(fmt.Sprintf("\x1B-%c", p.underline)))
}

func (p *Printer) SendEmphasize() {
	p.t.Write([]byte(fmt.Sprintf("\x1BE%c", p.emphasize)))
}

func (p *Printer) SendUpsidedown() {
	p.t.Write([]byte(fmt.Sprintf("\x1B{%c", p.upsidedown)))
}

func (p *Printer) SendRotate() {
	p.t.Write([]byte(fmt.Sprintf("\x1BR%c", p.rotate)))
}

func (p *Printer) SendReverse() {
	p.t.Write([]byte(fmt.Sprintf("\x1DB%c", p.reverse)))
}

func (p *Printer) SendSmooth() {
	p.t.Write([]byte(fmt.Sprintf("\x1Db%c", p.smooth)))
}

func (p *Printer) SendMoveX(x uint16) {
	p.Write([]byte{0x1b, 0x24, byte(x % 256), byte(x / 256)})
}

func (p *Printer) SendMoveY(y uint16) {
	p.Write([]byte{0x1d, 0x24, byte(y % 256), byte(y / 256)})
}

func (p *Printer) SetUnderline(v byte) {
	p.underline = v
	p.SendUnderline()
}

// SetEmphasize toggles bold (ESC E).
func (p *Printer) SetEmphasize(v byte) {
	p.emphasize = v
	p.SendEmphasize()
}

func (p *Printer) SetUpsidedown(v byte) {
	p.upsidedown = v
	p.SendUpsidedown()
}

func (p *Printer) SetRotate(v byte) {
	p.rotate = v
	p.SendRotate()
}

func (p *Printer) SetReverse(v byte) {
	p.reverse = v
	p.SendReverse()
}

func (p *Printer) SetSmooth(v byte) {
	p.smooth = v
	p.SendSmooth()
}

// Pulse sends the drawer kick pulse (2*2ms).
func (p *Printer) Pulse() {
	p.t.Write([]byte("\x1Bp\x02"))
}

// SetAlign sets the justification: left, center or right.
func (p *Printer) SetAlign(align string) error {
	a := 0
	switch align {
	case "left":
		a = 0
	case "center":
		a = 1
	case "right":
		a = 2
	default:
		return fmt.Errorf("invalid alignment: %s", align)
	}
	p.t.Write([]byte(fmt.Sprintf("\x1Ba%c", a)))
	return nil
}

// HRI placement for barcodes (GS H n).
const (
	HRINone  byte = 0
	HRIAbove byte = 1
	HRIBelow byte = 2
)

// BarcodeOptions control CODE128 rendering.
type BarcodeOptions struct {
	Height byte // dots, default 100
	Width  byte // module width 2..6, default 3
	HRI    byte // HRINone, HRIAbove or HRIBelow
}

// Barcode128 prints data as a CODE128 barcode (GS k 4, NUL-terminated data).
func (p *Printer) Barcode128(data string, opts BarcodeOptions) error {
	if data == "" {
		return fmt.Errorf("empty barcode data")
	}
	if opts.Height == 0 {
		opts.Height = 100
	}
	if opts.Width == 0 {
		opts.Width = 3
	}
	if _, err := p.t.Write([]byte{0x1d, 'h', opts.Height}); err != nil {
		return err
	}
	if _, err := p.t.Write([]byte{0x1d, 'w', opts.Width}); err != nil {
		return err
	}
	if _, err := p.t.Write([]byte{0x1d, 'H', opts.HRI}); err != nil {
		return err
	}
	if _, err := p.t.Write([]byte{0x1d, 'k', 4}); err != nil {
		return err
	}
	if _, err := p.t.Write([]byte(data)); err != nil {
		return err
	}
	_, err := p.t.Write([]byte{0x00})
	return err
}

var accentFolder = strings.NewReplacer(
	"à", "a", "â", "a", "ä", "a",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"î", "i", "ï", "i",
	"ô", "o", "ö", "o",
	"ù", "u", "û", "u", "ü", "u",
	"ç", "c",
	"À", "A", "Â", "A", "Ä", "A",
	"É", "E", "È", "E", "Ê", "E", "Ë", "E",
	"Î", "I", "Ï", "I",
	"Ô", "O", "Ö", "O",
	"Ù", "U", "Û", "U", "Ü", "U",
	"Ç", "C",
)

func foldAccents(s string) string {
	return accentFolder.Replace(s)
}

func intLowHigh(n int, b int) []byte {
	out := make([]byte, b)
	for i := 0; i < b; i++ {
		out[i] = byte(n % 256)
		n = n / 256
	}
	return out
}
