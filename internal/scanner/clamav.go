package scanner

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// clamd INSTREAM protocol: length-prefixed chunks (uint32 big-endian), a
// zero-length frame terminates the stream, the reply names the verdict.
const instreamChunkMax = 2048

// Result is a scan verdict. A transport or protocol error is not a verdict.
type Result struct {
	Clean     bool
	Signature string
}

// Scanner inspects a byte stream for malicious content.
type Scanner interface {
	Scan(ctx context.Context, r io.Reader) (Result, error)
}

// ClamAV is a minimal clamd INSTREAM client. Bytes are pulled from the reader
// and framed onto the socket; nothing is buffered to disk.
type ClamAV struct {
	addr    string
	timeout time.Duration
	dial    func(ctx context.Context) (net.Conn, error)
}

// NewClamAV builds a client for the given clamd host and port.
func NewClamAV(host string, port int) *ClamAV {
	addr := fmt.Sprintf("%s:%d", host, port)
	c := &ClamAV{addr: addr, timeout: 2 * time.Minute}
	c.dial = func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}
	return c
}

// Scan streams r through clamd and returns the verdict.
func (c *ClamAV) Scan(ctx context.Context, r io.Reader) (Result, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("dial clamd: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return Result{}, fmt.Errorf("write command: %w", err)
	}

	buf := make([]byte, instreamChunkMax)
	lenBuf := make([]byte, 4)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(lenBuf, uint32(n))
			if _, err := conn.Write(lenBuf); err != nil {
				return Result{}, fmt.Errorf("write frame length: %w", err)
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				return Result{}, fmt.Errorf("write frame: %w", err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return Result{}, fmt.Errorf("read stream: %w", readErr)
		}
	}

	// Zero-length frame signals end of stream.
	binary.BigEndian.PutUint32(lenBuf, 0)
	if _, err := conn.Write(lenBuf); err != nil {
		return Result{}, fmt.Errorf("write terminator: %w", err)
	}

	reply, err := io.ReadAll(conn)
	if err != nil {
		return Result{}, fmt.Errorf("read reply: %w", err)
	}
	return parseReply(string(reply))
}

func parseReply(reply string) (Result, error) {
	reply = strings.TrimSpace(strings.ReplaceAll(reply, "\x00", ""))

	if strings.HasSuffix(reply, "FOUND") {
		sig := strings.TrimSuffix(strings.TrimPrefix(reply, "stream: "), " FOUND")
		return Result{Clean: false, Signature: sig}, nil
	}
	if strings.Contains(reply, "stream: OK") {
		return Result{Clean: true}, nil
	}
	return Result{}, fmt.Errorf("unexpected clamd reply: %q", reply)
}
