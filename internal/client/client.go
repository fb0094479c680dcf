package client

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"time"

	"github.com/casterbn/PyGPSClient/internal/framer"
	"github.com/casterbn/PyGPSClient/internal/protocol"
)

const (
	defaultQueueSize   = 256
	defaultReadTimeout = 300 * time.Second
	dialTimeout        = 5 * time.Second
	readBufLen         = 4096
)

// Options configures one receiver connection
type Options struct {
	Host        string
	Port        int
	Transport   string // "tcp" or "udp"
	QueueSize   int
	ReadTimeout time.Duration
}

// Conn is one live connection to a GNSS receiver. A dedicated reader
// goroutine drains the socket, feeds the framer and emits results until
// the stream ends or the connection is closed.
type Conn struct {
	id      string
	sock    net.Conn
	framer  *framer.Framer
	results chan protocol.Result
	done    chan struct{}
	cancel  context.CancelFunc
	err     error // terminal transport error, written once before done closes
}

// Dial connects to the receiver and starts the reader goroutine
func Dial(ctx context.Context, id string, opts Options, dec protocol.Decoder) (*Conn, error) {
	if opts.Transport != "tcp" && opts.Transport != "udp" {
		return nil, fmt.Errorf("unsupported transport %q", opts.Transport)
	}
	addr := net.JoinHostPort(opts.Host, fmt.Sprintf("%d", opts.Port))
	sock, err := net.DialTimeout(opts.Transport, addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s %s: %w", opts.Transport, addr, err)
	}

	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &Conn{
		id:      id,
		sock:    sock,
		results: make(chan protocol.Result, queueSize),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	c.framer = framer.New(dec, c.results)

	go c.readLoop(ctx, readTimeout)
	return c, nil
}

// ID returns the connection identifier
func (c *Conn) ID() string { return c.id }

// RemoteAddr returns the receiver's address
func (c *Conn) RemoteAddr() string { return c.sock.RemoteAddr().String() }

// Results returns the delivery queue of (raw, parsed) pairs. It is closed
// when the stream ends; Err reports why.
func (c *Conn) Results() <-chan protocol.Result { return c.results }

// Done is closed when the reader goroutine has exited
func (c *Conn) Done() <-chan struct{} { return c.done }

// Err returns the terminal transport error, or nil after a clean Close
// or end-of-stream. Valid once Done is closed.
func (c *Conn) Err() error { return c.err }

// Write sends raw bytes to the receiver (polls, corrections, configuration)
func (c *Conn) Write(data []byte) error {
	if _, err := c.sock.Write(data); err != nil {
		return fmt.Errorf("write to %s: %w", c.id, err)
	}
	return nil
}

// Close stops the reader and closes the socket. Closing the socket unblocks
// a pending read, so shutdown latency is bounded by one read call.
func (c *Conn) Close() {
	c.cancel()
	c.sock.Close()
	<-c.done
}

func (c *Conn) readLoop(ctx context.Context, readTimeout time.Duration) {
	defer func() {
		close(c.results)
		close(c.done)
	}()

	buf := make([]byte, readBufLen)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.sock.SetReadDeadline(time.Now().Add(readTimeout))
		n, err := c.sock.Read(buf)
		if n > 0 {
			// Feed drains every complete frame onto the results queue;
			// partial trailing frames wait for the next read.
			c.framer.Feed(buf[:n])
		}
		if err != nil {
			select {
			case <-ctx.Done():
				// closed locally, not a transport failure
			default:
				if err != io.EOF {
					c.err = err
					log.Printf("[Gateway] Read error from %s: %v", c.id, err)
				}
			}
			return
		}
	}
}
