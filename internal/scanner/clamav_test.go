package scanner

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClamd speaks the INSTREAM wire protocol on the server side of a pipe and
// replies with the given verdict once the zero-length terminator arrives.
func fakeClamd(t *testing.T, conn net.Conn, reply string) <-chan []byte {
	t.Helper()
	received := make(chan []byte, 1)

	go func() {
		defer conn.Close()

		cmd := make([]byte, len("zINSTREAM\x00"))
		if _, err := io.ReadFull(conn, cmd); err != nil {
			t.Errorf("read command: %v", err)
			return
		}
		if string(cmd) != "zINSTREAM\x00" {
			t.Errorf("unexpected command %q", cmd)
			return
		}

		var body bytes.Buffer
		lenBuf := make([]byte, 4)
		for {
			if _, err := io.ReadFull(conn, lenBuf); err != nil {
				t.Errorf("read frame length: %v", err)
				return
			}
			size := binary.BigEndian.Uint32(lenBuf)
			if size == 0 {
				break
			}
			if _, err := io.CopyN(&body, conn, int64(size)); err != nil {
				t.Errorf("read frame body: %v", err)
				return
			}
		}

		received <- body.Bytes()
		if _, err := conn.Write([]byte(reply)); err != nil {
			t.Errorf("write reply: %v", err)
		}
	}()

	return received
}

func newPipeClient(conn net.Conn) *ClamAV {
	c := NewClamAV("localhost", 3310)
	c.dial = func(ctx context.Context) (net.Conn, error) { return conn, nil }
	return c
}

func TestScanCleanStream(t *testing.T) {
	client, server := net.Pipe()
	received := fakeClamd(t, server, "stream: OK\x00")

	payload := strings.Repeat("a", instreamChunkMax*2+100)
	result, err := newPipeClient(client).Scan(context.Background(), strings.NewReader(payload))
	require.NoError(t, err)
	assert.True(t, result.Clean)
	assert.Equal(t, []byte(payload), <-received)
}

func TestScanInfectedStream(t *testing.T) {
	client, server := net.Pipe()
	fakeClamd(t, server, "stream: Eicar-Test-Signature FOUND\x00")

	result, err := newPipeClient(client).Scan(context.Background(), strings.NewReader("x"))
	require.NoError(t, err)
	assert.False(t, result.Clean)
	assert.Equal(t, "Eicar-Test-Signature", result.Signature)
}

func TestScanMalformedReplyIsError(t *testing.T) {
	client, server := net.Pipe()
	fakeClamd(t, server, "INSTREAM size limit exceeded\x00")

	_, err := newPipeClient(client).Scan(context.Background(), strings.NewReader("x"))
	assert.ErrorContains(t, err, "unexpected clamd reply")
}

func TestScanEmptyStream(t *testing.T) {
	client, server := net.Pipe()
	received := fakeClamd(t, server, "stream: OK\x00")

	result, err := newPipeClient(client).Scan(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.True(t, result.Clean)
	assert.Empty(t, <-received)
}
