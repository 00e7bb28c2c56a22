package escpos

import (
	"bufio"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileTransportWritesAndCloses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lp0")

	tr, err := NewFileTransport(path, 0)
	require.NoError(t, err)

	_, err = tr.Write([]byte("\x1B@hello"))
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "\x1B@hello", string(data))
}

func TestFileTransportMissingDirectory(t *testing.T) {
	_, err := NewFileTransport("/nonexistent-dir/lp0", 0)
	assert.Error(t, err)
}

// fakeLPDServer speaks just enough RFC 1179 to accept one job. It returns
// the received data file bytes on the channel.
func fakeLPDServer(t *testing.T, conn net.Conn, dataOut chan<- []byte) {
	t.Helper()
	r := bufio.NewReader(conn)

	readCommand := func() (byte, string) {
		cmd, err := r.ReadByte()
		require.NoError(t, err)
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		return cmd, strings.TrimSuffix(line, "\n")
	}
	ack := func() {
		_, err := conn.Write([]byte{0x00})
		require.NoError(t, err)
	}
	readFile := func(header string) []byte {
		size, err := strconv.Atoi(strings.SplitN(header, " ", 2)[0])
		require.NoError(t, err)
		buf := make([]byte, size+1) // payload plus the trailing NUL
		_, err = io.ReadFull(r, buf)
		require.NoError(t, err)
		require.Equal(t, byte(0x00), buf[size])
		return buf[:size]
	}

	cmd, queue := readCommand()
	require.Equal(t, byte(0x02), cmd)
	require.Equal(t, "lp", queue)
	ack()

	cmd, header := readCommand()
	require.Equal(t, byte(0x02), cmd)
	require.True(t, strings.Contains(header, "cfA"))
	readFile(header)
	ack()

	cmd, header = readCommand()
	require.Equal(t, byte(0x03), cmd)
	require.True(t, strings.Contains(header, "dfA"))
	data := readFile(header)
	ack()

	dataOut <- data
}

func TestLPDTransportSubmitsJobOnClose(t *testing.T) {
	client, server := net.Pipe()
	dataOut := make(chan []byte, 1)
	go fakeLPDServer(t, server, dataOut)

	tr := NewLPDTransport(client, "lp")
	_, err := tr.Write([]byte("\x1B@TICKET"))
	require.NoError(t, err)
	require.NoError(t, tr.Close())

	assert.Equal(t, "\x1B@TICKET", string(<-dataOut))
}

func TestLPDTransportEmptyJobSkipsSubmission(t *testing.T) {
	client, server := net.Pipe()
	done := make(chan struct{})
	go func() {
		// the server must see the connection close without any bytes
		buf := make([]byte, 1)
		_, err := server.Read(buf)
		assert.ErrorIs(t, err, io.EOF)
		close(done)
	}()

	tr := NewLPDTransport(client, "lp")
	require.NoError(t, tr.Close())
	<-done
}

func TestLPDTransportWriteAfterClose(t *testing.T) {
	client, server := net.Pipe()
	go func() {
		buf := make([]byte, 1)
		server.Read(buf)
	}()

	tr := NewLPDTransport(client, "lp")
	require.NoError(t, tr.Close())

	_, err := tr.Write([]byte("late"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
