package escpos

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/gousb"
)

const defaultBaudRate = 19200

// Open resolves a device spec into a connected printer. Supported forms:
//
//	usb:04b8:0e28             gousb by vendor/product id
//	serial:/dev/ttyUSB0:19200 serial port, baud optional
//	tcp:192.168.1.50:9100     network (port 515 goes through LPD)
//	/dev/usb/epson_tmt20iii   character device node
//
// delay paces writes on character devices; other transports ignore it.
func Open(spec string, delay time.Duration) (*Printer, error) {
	switch {
	case strings.HasPrefix(spec, "usb:"):
		rest := strings.TrimPrefix(spec, "usb:")
		parts := strings.Split(rest, ":")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid usb spec %q, want usb:vid:pid", spec)
		}
		vid, err := strconv.ParseUint(parts[0], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid usb vendor id %q: %w", parts[0], err)
		}
		pid, err := strconv.ParseUint(parts[1], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid usb product id %q: %w", parts[1], err)
		}
		return NewUSBPrinter(gousb.ID(vid), gousb.ID(pid))

	case strings.HasPrefix(spec, "serial:"):
		rest := strings.TrimPrefix(spec, "serial:")
		baud := defaultBaudRate
		if i := strings.LastIndexByte(rest, ':'); i > 0 {
			if b, err := strconv.Atoi(rest[i+1:]); err == nil {
				baud = b
				rest = rest[:i]
			}
		}
		return NewSerialPrinter(rest, baud)

	case strings.HasPrefix(spec, "tcp:"):
		addr := strings.TrimPrefix(spec, "tcp:")
		conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("connecting to %s: %w", addr, err)
		}
		return NewPrinter(conn)

	default:
		t, err := NewFileTransport(spec, delay)
		if err != nil {
			return nil, err
		}
		return newPrinter(t), nil
	}
}
