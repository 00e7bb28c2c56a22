package escpos

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// NewSerialPrinter opens a serial port (COM*, /dev/ttyUSB*, /dev/cu.*) at
// the given baud rate and returns a printer on it.
func NewSerialPrinter(portName string, baudRate int) (*Printer, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}
	if !containsString(ports, portName) {
		return nil, fmt.Errorf("serial port %s not found", portName)
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", portName, err)
	}
	port.SetReadTimeout(100 * time.Millisecond)

	printer, err := NewPrinter(port)
	if err != nil {
		port.Close()
		return nil, err
	}

	// XON in case the printer is software flow-controlled, then hardware init
	if _, err := port.Write([]byte{0x11}); err != nil {
		port.Close()
		return nil, fmt.Errorf("waking serial printer: %w", err)
	}
	printer.Init()
	time.Sleep(100 * time.Millisecond)
	return printer, nil
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
