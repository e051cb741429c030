package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// ValkeyProvider implements Provider backed by a Valkey/Redis-compatible
// server. It dials a fresh connection per operation; report caching is
// low-frequency so pooling is not worth the complexity.
type ValkeyProvider struct {
	cfg ValkeyConfig
}

// ValkeyConfig holds connection parameters for the Valkey server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewValkeyProvider creates a Provider using the supplied configuration. It
// pings the target to fail fast when connectivity or credentials are wrong.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}

	provider := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := provider.command(ctx, "PING"); err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	return provider, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.command(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, ErrCacheMiss
	}
	return reply, nil
}

// Set stores bytes with the provided TTL.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{key, string(value)}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	reply, err := p.command(ctx, "SET", args...)
	if err != nil {
		return err
	}
	if string(reply) != "OK" {
		return fmt.Errorf("unexpected SET response: %s", reply)
	}
	return nil
}

// Del removes a key from the cache.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.command(ctx, "DEL", key)
	return err
}

// Close closes the provider (no-op: connections are per-operation).
func (p *ValkeyProvider) Close() error { return nil }

func (p *ValkeyProvider) command(ctx context.Context, name string, args ...string) ([]byte, error) {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	if p.cfg.Password != "" {
		authArgs := []string{p.cfg.Password}
		if p.cfg.Username != "" {
			authArgs = []string{p.cfg.Username, p.cfg.Password}
		}
		if _, err := p.roundTrip(conn, rw, "AUTH", authArgs...); err != nil {
			return nil, fmt.Errorf("valkey auth: %w", err)
		}
	}
	if p.cfg.DB > 0 {
		if _, err := p.roundTrip(conn, rw, "SELECT", strconv.Itoa(p.cfg.DB)); err != nil {
			return nil, fmt.Errorf("valkey select db: %w", err)
		}
	}

	return p.roundTrip(conn, rw, name, args...)
}

func (p *ValkeyProvider) roundTrip(conn net.Conn, rw *bufio.ReadWriter, name string, args ...string) ([]byte, error) {
	if err := conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout)); err != nil {
		return nil, err
	}
	if err := writeCommand(rw.Writer, name, args...); err != nil {
		return nil, err
	}
	if err := conn.SetReadDeadline(time.Now().Add(p.cfg.ReadTimeout)); err != nil {
		return nil, err
	}
	return readReply(rw.Reader)
}

// writeCommand serialises a command as a RESP array of bulk strings.
func writeCommand(w *bufio.Writer, name string, args ...string) error {
	if _, err := fmt.Fprintf(w, "*%d\r\n", len(args)+1); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(name), name); err != nil {
		return err
	}
	for _, arg := range args {
		if _, err := fmt.Fprintf(w, "$%d\r\n%s\r\n", len(arg), arg); err != nil {
			return err
		}
	}
	return w.Flush()
}

// readReply parses one RESP reply. Nil bulk strings are returned as a nil
// slice with no error so callers can map them to ErrCacheMiss.
func readReply(r *bufio.Reader) ([]byte, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil, errors.New("empty valkey reply")
	}

	switch line[0] {
	case '+':
		return []byte(line[1:]), nil
	case ':':
		return []byte(line[1:]), nil
	case '-':
		return nil, fmt.Errorf("valkey error: %s", line[1:])
	case '$':
		length, err := strconv.Atoi(line[1:])
		if err != nil {
			return nil, fmt.Errorf("bad bulk length %q", line[1:])
		}
		if length < 0 {
			return nil, nil
		}
		buf := make([]byte, length+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return buf[:length], nil
	default:
		return nil, fmt.Errorf("unsupported valkey reply %q", line)
	}
}
