package mailx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// IMAPClient is an Inbound over go-imap. It selects INBOX read-only and
// never alters flags.
type IMAPClient struct {
	cfg     ServerConfig
	mailbox string

	mu sync.Mutex
	c  *client.Client
}

func NewIMAPClient(cfg ServerConfig) *IMAPClient {
	return &IMAPClient{cfg: cfg, mailbox: "INBOX"}
}

func (m *IMAPClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c != nil {
		return nil
	}

	d := &net.Dialer{Timeout: m.cfg.Timeout}
	if dl, ok := ctx.Deadline(); ok {
		d.Deadline = dl
	}

	var (
		c   *client.Client
		err error
	)
	if m.cfg.Security == SecurityTLS {
		c, err = client.DialWithDialerTLS(d, m.cfg.addr(), m.cfg.tlsConfig())
	} else {
		c, err = client.DialWithDialer(d, m.cfg.addr())
	}
	if err != nil {
		return fmt.Errorf("imap dial %s: %w", m.cfg.addr(), err)
	}
	c.Timeout = m.cfg.Timeout

	if err := m.handshake(c); err != nil {
		_ = c.Logout()
		return err
	}
	m.c = c
	return nil
}

func (m *IMAPClient) handshake(c *client.Client) error {
	if m.cfg.Security == SecurityStartTLS {
		if err := c.StartTLS(m.cfg.tlsConfig()); err != nil {
			return fmt.Errorf("imap starttls: %w", err)
		}
	}
	if err := c.Login(m.cfg.Username, string(m.cfg.Password)); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}
	if _, err := c.Select(m.mailbox, true); err != nil {
		return fmt.Errorf("imap select %s: %w", m.mailbox, err)
	}
	return nil
}

func (m *IMAPClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.c != nil && m.c.State()&imap.AuthenticatedState != 0
}

func (m *IMAPClient) Messages(ctx context.Context, since time.Time, subject string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c == nil {
		return nil, errors.New("imap: not connected")
	}
	out, err := m.messages(since, subject)
	if err != nil {
		_ = m.c.Logout()
		m.c = nil
		return nil, err
	}
	return out, nil
}

func (m *IMAPClient) messages(since time.Time, subject string) ([]Message, error) {
	// re-select so the mailbox view includes mail that arrived since the
	// last poll
	if _, err := m.c.Select(m.mailbox, true); err != nil {
		return nil, fmt.Errorf("imap select %s: %w", m.mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	if !since.IsZero() {
		// SINCE is date-only in the server's zone; widen by a day and
		// filter exactly below.
		criteria.Since = since.AddDate(0, 0, -1)
	}
	if subject != "" {
		criteria.Header.Add("Subject", subject)
	}
	uids, err := m.c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("imap search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchInternalDate, section.FetchItem()}

	ch := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- m.c.UidFetch(seqset, items, ch)
	}()

	var out []Message
	for msg := range ch {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		parsed, err := Parse(body)
		if err != nil {
			continue
		}
		if subject != "" && strings.TrimSpace(parsed.Subject) != subject {
			continue
		}
		if !msg.InternalDate.IsZero() {
			parsed.Date = msg.InternalDate
		}
		if parsed.Date.Before(since) {
			continue
		}
		out = append(out, parsed)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("imap fetch: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *IMAPClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c == nil {
		return nil
	}
	err := m.c.Logout()
	m.c = nil
	if errors.Is(err, client.ErrAlreadyLoggedOut) {
		return nil
	}
	return err
}
