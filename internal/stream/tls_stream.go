package stream

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultIdleWait    = 50 * time.Millisecond
	readBufferSize     = 512
)

var ErrNotConnected = errors.New("stream is not connected")

// TLSStream is a byte stream over a TLS connection. Available peeks the
// connection for up to IdleWait so callers can poll it without blocking
// indefinitely.
type TLSStream struct {
	config      *tls.Config
	dialTimeout time.Duration
	idleWait    time.Duration

	conn   *tls.Conn
	reader *bufio.Reader
	eof    bool
}

func NewTLSStream(config *tls.Config, dialTimeout, idleWait time.Duration) *TLSStream {
	if config == nil {
		config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	if idleWait <= 0 {
		idleWait = defaultIdleWait
	}
	return &TLSStream{
		config:      config,
		dialTimeout: dialTimeout,
		idleWait:    idleWait,
	}
}

func (s *TLSStream) Connect(ctx context.Context, host string, port int) error {
	if s.conn != nil {
		s.Close()
	}

	config := s.config.Clone()
	if config.ServerName == "" {
		config.ServerName = host
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: s.dialTimeout},
		Config:    config,
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	s.conn = conn.(*tls.Conn)
	s.reader = bufio.NewReaderSize(s.conn, readBufferSize)
	s.eof = false
	slog.Debug("TLS stream connected", "address", addr)
	return nil
}

func (s *TLSStream) Write(p []byte) (int, error) {
	if s.conn == nil {
		return 0, ErrNotConnected
	}
	return s.conn.Write(p)
}

func (s *TLSStream) Available() int {
	if s.reader == nil {
		return 0
	}
	if n := s.reader.Buffered(); n > 0 || s.eof {
		return n
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(s.idleWait)); err != nil {
		return 0
	}
	_, err := s.reader.Peek(1)
	_ = s.conn.SetReadDeadline(time.Time{})

	if err != nil {
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			s.eof = true
		}
	}
	return s.reader.Buffered()
}

func (s *TLSStream) Read(p []byte) (int, error) {
	if s.reader == nil {
		return 0, ErrNotConnected
	}
	return s.reader.Read(p)
}

func (s *TLSStream) Close() error {
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	s.reader = nil
	s.eof = false
	return err
}
