package mailx

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"sync"
	"time"
)

// SMTPClient is an Outbound over net/smtp. It keeps one connection open
// between sends and drops it on any error so the next send reconnects.
type SMTPClient struct {
	cfg ServerConfig

	mu   sync.Mutex
	c    *smtp.Client
	conn net.Conn
}

func NewSMTPClient(cfg ServerConfig) *SMTPClient {
	return &SMTPClient{cfg: cfg}
}

func (s *SMTPClient) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}

	d := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", s.cfg.addr())
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", s.cfg.addr(), err)
	}
	if s.cfg.Security == SecurityTLS {
		conn = tls.Client(conn, s.cfg.tlsConfig())
	}
	s.conn = conn
	s.arm()

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp greeting: %w", err)
	}
	if err := s.handshake(c); err != nil {
		_ = c.Close()
		return err
	}
	s.c = c
	return nil
}

// arm bounds the next round-trips by the configured timeout.
func (s *SMTPClient) arm() {
	if s.cfg.Timeout > 0 && s.conn != nil {
		_ = s.conn.SetDeadline(time.Now().Add(s.cfg.Timeout))
	}
}

func (s *SMTPClient) handshake(c *smtp.Client) error {
	if err := c.Hello("localhost"); err != nil {
		return fmt.Errorf("smtp hello: %w", err)
	}
	if s.cfg.Security == SecurityStartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return errors.New("smtp: server does not offer STARTTLS")
		}
		if err := c.StartTLS(s.cfg.tlsConfig()); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if s.cfg.Auth {
		if err := c.Auth(&plainAuth{username: s.cfg.Username, password: s.cfg.Password, host: s.cfg.Host}); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	return nil
}

func (s *SMTPClient) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c != nil
}

// Send delivers m. The client must be connected.
func (s *SMTPClient) Send(ctx context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return errors.New("smtp: not connected")
	}
	s.arm()
	if err := s.send(m); err != nil {
		_ = s.c.Close()
		s.c = nil
		return err
	}
	return nil
}

func (s *SMTPClient) send(m Message) error {
	if err := s.c.Mail(m.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := s.c.Rcpt(m.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := s.c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(Compose(&m)); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp data end: %w", err)
	}
	return nil
}

func (s *SMTPClient) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	s.arm()
	err := s.c.Quit()
	if err != nil {
		_ = s.c.Close()
	}
	s.c = nil
	return err
}

// plainAuth is PLAIN over a []byte password. Like smtp.PlainAuth it refuses
// to send credentials over an unencrypted connection to a remote host.
type plainAuth struct {
	username string
	password []byte
	host     string
}

func (a *plainAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("smtp: refusing PLAIN auth over unencrypted connection")
	}
	if server.Name != a.host {
		return "", nil, errors.New("smtp: wrong host name")
	}
	resp := make([]byte, 0, len(a.username)+len(a.password)+2)
	resp = append(resp, 0)
	resp = append(resp, a.username...)
	resp = append(resp, 0)
	resp = append(resp, a.password...)
	return "PLAIN", resp, nil
}

func (a *plainAuth) Next(_ []byte, more bool) ([]byte, error) {
	if more {
		return nil, errors.New("smtp: unexpected server challenge")
	}
	return nil, nil
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}
