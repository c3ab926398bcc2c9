package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"
)

// Carbon writes points in the carbon plaintext protocol
// ("path value timestamp\n") over a TCP connection.
type Carbon struct {
	addr    string
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	conn net.Conn
}

// NewCarbon creates a sink for addr. The connection is opened on first use.
func NewCarbon(addr string, timeout time.Duration, logger *slog.Logger) *Carbon {
	return &Carbon{
		addr:    addr,
		timeout: timeout,
		logger:  logger,
	}
}

// FormatLine renders one point in plaintext protocol form.
func FormatLine(path string, value float64, ts time.Time) string {
	return fmt.Sprintf("%s %s %d\n", path, strconv.FormatFloat(value, 'f', -1, 64), ts.Unix())
}

// Emit sends one point. On failure the connection is dropped and the next
// call dials again; the point itself is not retried.
func (c *Carbon) Emit(ctx context.Context, path string, value float64, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		var d net.Dialer
		conn, err := d.DialContext(dialCtx, "tcp", c.addr)
		if err != nil {
			return fmt.Errorf("%w: dial %s: %v", ErrDelivery, c.addr, err)
		}
		c.logger.Debug("Connected to carbon", "address", c.addr)
		c.conn = conn
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		c.dropLocked()
		return fmt.Errorf("%w: %s: %v", ErrDelivery, path, err)
	}
	if _, err := c.conn.Write([]byte(FormatLine(path, value, ts))); err != nil {
		c.dropLocked()
		return fmt.Errorf("%w: %s: %v", ErrDelivery, path, err)
	}
	return nil
}

func (c *Carbon) dropLocked() {
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Debug("Closing carbon connection", "error", err)
	}
	c.conn = nil
}

// Close closes the connection if one is open.
func (c *Carbon) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
