package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyProvider implements Provider against a Valkey/Redis-compatible
// server over a minimal RESP dialect: one connection per operation, no
// pipelining, retries on transient network errors.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the cache server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
}

func (cfg *ValkeyConfig) applyDefaults() {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
}

// NewValkeyProvider validates the config and pings the server so bad
// credentials or connectivity fail at startup rather than mid-run.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	cfg.applyDefaults()
	p := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := p.ping(ctx); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return p, nil
}

func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.do(ctx, func(c *respConn) error {
		if err := c.send("GET", []byte(key)); err != nil {
			return err
		}
		value, isNil, err := c.readBulkOrNil()
		if err != nil {
			return err
		}
		if isNil {
			return ErrCacheMiss
		}
		payload = value
		return nil
	})
	return payload, err
}

func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return p.do(ctx, func(c *respConn) error {
		args := setArgs(key, value, ttl, false)
		if err := c.send("SET", args...); err != nil {
			return err
		}
		return c.expectOK("SET")
	})
}

func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var stored bool
	err := p.do(ctx, func(c *respConn) error {
		args := setArgs(key, value, ttl, true)
		if err := c.send("SET", args...); err != nil {
			return err
		}
		_, isNil, err := c.readBulkOrNil()
		if err != nil {
			return err
		}
		stored = !isNil
		return nil
	})
	return stored, err
}

func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	return p.do(ctx, func(c *respConn) error {
		if err := c.send("DEL", []byte(key)); err != nil {
			return err
		}
		_, _, err := c.readBulkOrNil()
		return err
	})
}

func (p *ValkeyProvider) Close() error { return nil }

func setArgs(key string, value []byte, ttl time.Duration, nx bool) [][]byte {
	args := [][]byte{[]byte(key), value}
	if ttl > 0 {
		args = append(args, []byte("PX"), []byte(strconv.FormatInt(ttl.Milliseconds(), 10)))
	}
	if nx {
		args = append(args, []byte("NX"))
	}
	return args
}

func (p *ValkeyProvider) ping(ctx context.Context) error {
	return p.do(ctx, func(c *respConn) error {
		if err := c.send("PING"); err != nil {
			return err
		}
		return c.expectReply("PING", "PONG")
	})
}

// do runs fn on a fresh authenticated connection, retrying transient network
// failures with exponential backoff.
func (p *ValkeyProvider) do(ctx context.Context, fn func(*respConn) error) error {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt > 0 {
			time.Sleep(time.Duration(1<<(attempt-1)) * 25 * time.Millisecond)
		}

		conn, err := p.dial(ctx)
		if err != nil {
			lastErr = err
			if isTransient(err) {
				continue
			}
			return err
		}

		err = p.authenticate(conn)
		if err == nil {
			err = fn(conn)
		}
		conn.close()
		if err == nil {
			return nil
		}
		lastErr = err
		if !isTransient(err) {
			return err
		}
	}
	return lastErr
}

func (p *ValkeyProvider) dial(ctx context.Context) (*respConn, error) {
	dialer := net.Dialer{Timeout: dialBudget(ctx, p.cfg.DialTimeout)}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		host := p.cfg.Addr
		if h, _, splitErr := net.SplitHostPort(p.cfg.Addr); splitErr == nil {
			host = h
		}
		conn, err = tls.DialWithDialer(&dialer, "tcp", p.cfg.Addr,
			&tls.Config{MinVersion: tls.VersionTLS12, ServerName: host})
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &respConn{
		conn:         conn,
		reader:       bufio.NewReader(conn),
		writer:       bufio.NewWriter(conn),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

func (p *ValkeyProvider) authenticate(c *respConn) error {
	if p.cfg.Password != "" {
		args := [][]byte{[]byte(p.cfg.Password)}
		if p.cfg.Username != "" {
			args = [][]byte{[]byte(p.cfg.Username), []byte(p.cfg.Password)}
		}
		if err := c.send("AUTH", args...); err != nil {
			return err
		}
		if err := c.expectOK("AUTH"); err != nil {
			return err
		}
	}
	if p.cfg.DB > 0 {
		if err := c.send("SELECT", []byte(strconv.Itoa(p.cfg.DB))); err != nil {
			return err
		}
		if err := c.expectOK("SELECT"); err != nil {
			return err
		}
	}
	return nil
}

func dialBudget(ctx context.Context, d time.Duration) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return time.Millisecond
		}
		if d <= 0 || remaining < d {
			return remaining
		}
	}
	if d <= 0 {
		return time.Millisecond
	}
	return d
}

func isTransient(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// respConn wraps one connection with just enough of the RESP protocol to
// serve the Provider methods.
type respConn struct {
	conn         net.Conn
	reader       *bufio.Reader
	writer       *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (c *respConn) close() { _ = c.conn.Close() }

func (c *respConn) send(command string, args ...[]byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(c.writer, "*%d\r\n", len(args)+1)
	fmt.Fprintf(c.writer, "$%d\r\n%s\r\n", len(command), command)
	for _, arg := range args {
		fmt.Fprintf(c.writer, "$%d\r\n", len(arg))
		c.writer.Write(arg)
		c.writer.WriteString("\r\n")
	}
	return c.writer.Flush()
}

// readBulkOrNil reads a reply that may be a bulk string, a simple string, an
// integer, or a nil bulk. Errors from the server come back as Go errors.
func (c *respConn) readBulkOrNil() (value []byte, isNil bool, err error) {
	prefix, line, err := c.readTyped()
	if err != nil {
		return nil, false, err
	}
	switch prefix {
	case '+', ':':
		return line, false, nil
	case '$':
		size, err := strconv.Atoi(string(line))
		if err != nil {
			return nil, false, fmt.Errorf("bad bulk length %q", line)
		}
		if size < 0 {
			return nil, true, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(c.reader, buf); err != nil {
			return nil, false, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return nil, false, errors.New("bulk string missing CRLF terminator")
		}
		return buf[:size], false, nil
	default:
		return nil, false, fmt.Errorf("unexpected RESP prefix %q", prefix)
	}
}

func (c *respConn) expectOK(op string) error {
	return c.expectReply(op, "OK")
}

func (c *respConn) expectReply(op, want string) error {
	prefix, line, err := c.readTyped()
	if err != nil {
		return err
	}
	if prefix != '+' || !strings.EqualFold(string(line), want) {
		return fmt.Errorf("unexpected %s response: %s", op, line)
	}
	return nil
}

func (c *respConn) readTyped() (byte, []byte, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, nil, err
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return 0, nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if len(line) == 0 {
		return 0, nil, errors.New("empty RESP line")
	}
	prefix, body := line[0], []byte(line[1:])
	if prefix == '-' {
		return 0, nil, errors.New(string(body))
	}
	return prefix, body, nil
}
