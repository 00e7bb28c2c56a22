package escpos

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Transport is the byte pipe between the command emitter and a physical
// printer. Close flushes any buffered job (LPD) before releasing the
// underlying connection.
type Transport interface {
	Write([]byte) (int, error)
	Read([]byte) (int, error)
	Close() error
}

// RawTransport passes bytes straight through to the underlying connection.
type RawTransport struct {
	conn io.ReadWriteCloser
}

func (r *RawTransport) Write(b []byte) (int, error) { return r.conn.Write(b) }
func (r *RawTransport) Read(b []byte) (int, error)  { return r.conn.Read(b) }
func (r *RawTransport) Close() error                { return r.conn.Close() }

// FileTransport writes to a character device node. Every write is synced and
// paced by a small delay: the TM-T20III drops or doubles lines when the
// kernel lp buffer is flooded.
type FileTransport struct {
	f     *os.File
	delay time.Duration
}

// NewFileTransport opens a device node for writing.
func NewFileTransport(path string, delay time.Duration) (*FileTransport, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening printer device %s: %w", path, err)
	}
	return &FileTransport{f: f, delay: delay}, nil
}

func (t *FileTransport) Write(b []byte) (int, error) {
	n, err := t.f.Write(b)
	if err != nil {
		return n, err
	}
	_ = t.f.Sync()
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	return n, nil
}

func (t *FileTransport) Read(b []byte) (int, error) {
	return t.f.Read(b)
}

func (t *FileTransport) Close() error {
	_ = t.f.Sync()
	return t.f.Close()
}

// LPDTransport buffers the whole job and submits it to an RFC 1179 line
// printer daemon on Close.
type LPDTransport struct {
	conn   net.Conn
	queue  string
	jobBuf bytes.Buffer
	closed bool
	mu     sync.Mutex
}

func NewLPDTransport(conn net.Conn, queue string) *LPDTransport {
	if queue == "" {
		queue = "lp"
	}
	return &LPDTransport{conn: conn, queue: queue}
}

func (l *LPDTransport) Write(data []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, io.ErrClosedPipe
	}
	return l.jobBuf.Write(data)
}

func (l *LPDTransport) Read(b []byte) (int, error) {
	return l.conn.Read(b)
}

func (l *LPDTransport) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	defer func() { l.closed = true }()

	if l.jobBuf.Len() == 0 {
		return l.conn.Close()
	}
	if err := l.flushJob(); err != nil {
		_ = l.conn.Close()
		return err
	}
	return l.conn.Close()
}

func (l *LPDTransport) flushJob() error {
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	user := os.Getenv("USER")
	if user == "" {
		user = "print-agent"
	}

	jobID := int(time.Now().UnixNano() % 1000000)
	hostShort := host
	if i := strings.IndexByte(hostShort, '.'); i > 0 {
		hostShort = hostShort[:i]
	}
	jobName := fmt.Sprintf("escpos-%d", jobID)
	cfName := fmt.Sprintf("cfA%03d%s", jobID%1000, hostShort)
	dfName := fmt.Sprintf("dfA%03d%s", jobID%1000, hostShort)

	// H - host, P - user, J - job name, N - original file name, U - data file
	control := fmt.Sprintf("H%s\nP%s\nJ%s\nN%s\nU%s\n", host, user, jobName, dfName, dfName)

	if err := requestPrintJob(l.conn, l.queue); err != nil {
		return fmt.Errorf("lpd: receive-job: %w", err)
	}
	if err := sendControlFile(l.conn, cfName, []byte(control)); err != nil {
		return fmt.Errorf("lpd: control file: %w", err)
	}
	if err := sendDataFile(l.conn, dfName, l.jobBuf.Bytes()); err != nil {
		return fmt.Errorf("lpd: data file: %w", err)
	}

	l.jobBuf.Reset()
	return nil
}

func requestPrintJob(conn net.Conn, queue string) error {
	if err := writeAll(conn, []byte{0x02}); err != nil {
		return err
	}
	if err := writeAll(conn, []byte(queue+"\n")); err != nil {
		return err
	}
	return readAck(conn)
}

func sendControlFile(conn net.Conn, cfName string, control []byte) error {
	if err := writeAll(conn, []byte{0x02}); err != nil {
		return err
	}
	header := []byte(strconv.Itoa(len(control)) + " " + cfName + "\n")
	if err := writeAll(conn, header); err != nil {
		return err
	}
	if err := writeAll(conn, control); err != nil {
		return err
	}
	if err := writeAll(conn, []byte{0x00}); err != nil {
		return err
	}
	return readAck(conn)
}

func sendDataFile(conn net.Conn, dfName string, data []byte) error {
	if err := writeAll(conn, []byte{0x03}); err != nil {
		return err
	}
	header := []byte(strconv.Itoa(len(data)) + " " + dfName + "\n")
	if err := writeAll(conn, header); err != nil {
		return err
	}
	if err := writeAll(conn, data); err != nil {
		return err
	}
	if err := writeAll(conn, []byte{0x00}); err != nil {
		return err
	}
	return readAck(conn)
}

func readAck(conn net.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	ack := make([]byte, 1)
	n, err := conn.Read(ack)
	if err != nil {
		return fmt.Errorf("reading ack: %w", err)
	}
	if n != 1 || ack[0] != 0x00 {
		return fmt.Errorf("request not acknowledged (0x%02x)", ack[0])
	}
	return nil
}

func writeAll(conn net.Conn, b []byte) error {
	sent := 0
	for sent < len(b) {
		n, err := conn.Write(b[sent:])
		if err != nil {
			return err
		}
		sent += n
	}
	return nil
}

type nopCloser struct {
	io.ReadWriter
}

func (n nopCloser) Close() error { return nil }
