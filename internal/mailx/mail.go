// Package mailx carries lettera notes over ordinary mail: SMTP for sending,
// IMAP for receiving. Each note travels as one message whose body is the
// armored OpenPGP blob.
package mailx

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Security selects how a connection is protected.
type Security int

const (
	SecurityNone Security = iota
	SecurityStartTLS
	SecurityTLS
)

func (s Security) String() string {
	switch s {
	case SecurityStartTLS:
		return "starttls"
	case SecurityTLS:
		return "tls"
	default:
		return "none"
	}
}

// ServerConfig describes one mail server endpoint. Password is borrowed; the
// caller wipes it after Close.
type ServerConfig struct {
	Host      string
	Port      int
	Security  Security
	Auth      bool
	Username  string
	Password  []byte
	Timeout   time.Duration
	TLSConfig *tls.Config
}

func (c ServerConfig) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c ServerConfig) tlsConfig() *tls.Config {
	if c.TLSConfig != nil {
		return c.TLSConfig
	}
	return &tls.Config{ServerName: c.Host, MinVersion: tls.VersionTLS12}
}

// Message is one mail as lettera sees it.
type Message struct {
	MessageID string
	From      string
	To        string
	Subject   string
	Date      time.Time
	Body      []byte
}

// Outbound sends messages.
type Outbound interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	Send(ctx context.Context, m Message) error
	Close() error
}

// Inbound lists received messages.
type Inbound interface {
	Connect(ctx context.Context) error
	IsConnected() bool
	// Messages returns messages with the given subject dated at or after
	// since, oldest first.
	Messages(ctx context.Context, since time.Time, subject string) ([]Message, error)
	Close() error
}

// Compose renders m as an RFC 5322 message. Missing Message-ID and Date are
// filled in.
func Compose(m *Message) []byte {
	if m.MessageID == "" {
		domain := "lettera.local"
		if i := strings.LastIndexByte(m.From, '@'); i >= 0 {
			domain = m.From[i+1:]
		}
		m.MessageID = "<" + uuid.NewString() + "@" + domain + ">"
	}
	if m.Date.IsZero() {
		m.Date = time.Now()
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	fmt.Fprintf(&b, "Date: %s\r\n", m.Date.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", m.MessageID)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=us-ascii\r\n")
	b.WriteString("X-Mailer: lettera\r\n")
	b.WriteString("\r\n")
	b.Write(normalizeCRLF(m.Body))
	if !bytes.HasSuffix(b.Bytes(), []byte("\r\n")) {
		b.WriteString("\r\n")
	}
	return b.Bytes()
}

// Parse reads an RFC 5322 message.
func Parse(r io.Reader) (Message, error) {
	pm, err := mail.ReadMessage(r)
	if err != nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	body, err := io.ReadAll(pm.Body)
	if err != nil {
		return Message{}, fmt.Errorf("read body: %w", err)
	}
	m := Message{
		MessageID: pm.Header.Get("Message-ID"),
		From:      pm.Header.Get("From"),
		To:        pm.Header.Get("To"),
		Subject:   pm.Header.Get("Subject"),
		Body:      body,
	}
	if d, err := pm.Header.Date(); err == nil {
		m.Date = d
	}
	return m, nil
}

func normalizeCRLF(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))
}
