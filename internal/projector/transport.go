package projector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.bug.st/serial"
)

// Conn is a duplex byte stream to the projector. One Conn is created per
// connection attempt and discarded on every reconnect.
type Conn interface {
	io.ReadWriteCloser

	// CloseWrite half-closes the stream once pending output is flushed.
	CloseWrite() error
}

// Dialer opens a Conn. Dial must honour ctx cancellation where the
// underlying transport allows it.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// TCPDialer connects to the projector's telnet control port.
type TCPDialer struct {
	Address string
	Port    int

	// WriteTimeout bounds each command write. Default: 5 seconds.
	WriteTimeout time.Duration

	// KeepAlive is the TCP keep-alive period. Zero uses the system default.
	KeepAlive time.Duration
}

// Dial implements Dialer.
func (d *TCPDialer) Dial(ctx context.Context) (Conn, error) {
	addr := net.JoinHostPort(d.Address, strconv.Itoa(d.Port))
	nd := net.Dialer{KeepAlive: d.KeepAlive}

	c, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", ErrTransport, addr, err)
	}

	tc, ok := c.(*net.TCPConn)
	if !ok {
		c.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("%w: unexpected connection type %T", ErrTransport, c)
	}

	writeTimeout := d.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &tcpConn{TCPConn: tc, writeTimeout: writeTimeout}, nil
}

type tcpConn struct {
	*net.TCPConn
	writeTimeout time.Duration
}

func (c *tcpConn) Write(p []byte) (int, error) {
	if err := c.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return 0, err
	}
	return c.TCPConn.Write(p)
}

// SerialDialer opens the projector's RS-232 port. The ASCII protocol is the
// same as over TCP.
type SerialDialer struct {
	Device   string
	BaudRate int
}

// DefaultBaudRate is the Optoma RS-232 default.
const DefaultBaudRate = 9600

// Dial implements Dialer. Opening a serial port cannot be interrupted, so
// ctx is only checked before the attempt.
func (d *SerialDialer) Dial(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	baud := d.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(d.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: open serial port %s: %w", ErrTransport, d.Device, err)
	}
	return &serialConn{port: port}, nil
}

type serialConn struct {
	port serial.Port
}

func (s *serialConn) Read(p []byte) (int, error) {
	for {
		n, err := s.port.Read(p)
		if err != nil {
			var perr *serial.PortError
			if errors.As(err, &perr) && perr.Code() == serial.PortClosed {
				return n, io.EOF
			}
			return n, err
		}
		// A zero-byte read without error is a read timeout; keep waiting.
		if n > 0 {
			return n, nil
		}
	}
}

func (s *serialConn) Write(p []byte) (int, error) { return s.port.Write(p) }

// CloseWrite waits for buffered output to reach the wire.
func (s *serialConn) CloseWrite() error { return s.port.Drain() }

func (s *serialConn) Close() error { return s.port.Close() }
