package services

import (
	"time"

	"github.com/francitoshi/lettera/internal/client/models"
	"github.com/francitoshi/lettera/internal/mailx"
)

// TransportFactory builds the mail transports of an account. password is
// the unwrapped mail password; the transports borrow it until the chat
// stops.
type TransportFactory func(a models.Account, password []byte, timeout time.Duration) (mailx.Outbound, mailx.Inbound, error)

// MailTransports is the default TransportFactory: SMTP out, IMAP in.
func MailTransports(a models.Account, password []byte, timeout time.Duration) (mailx.Outbound, mailx.Inbound, error) {
	username := a.Username
	if username == "" {
		username = a.Address
	}

	smtpCfg := mailx.ServerConfig{
		Host:     a.SMTPHost,
		Port:     a.SMTPPort,
		Security: security(a.SMTPPort, 465, a.StartTLS),
		Auth:     a.Auth,
		Username: username,
		Password: password,
		Timeout:  timeout,
	}
	imapCfg := mailx.ServerConfig{
		Host:     a.IMAPHost,
		Port:     a.IMAPPort,
		Security: security(a.IMAPPort, 993, a.StartTLS),
		Auth:     true,
		Username: username,
		Password: password,
		Timeout:  timeout,
	}
	return mailx.NewSMTPClient(smtpCfg), mailx.NewIMAPClient(imapCfg), nil
}

// security picks implicit TLS on the well-known TLS port, STARTTLS when the
// account asks for it, and nothing otherwise.
func security(port, tlsPort int, startTLS bool) mailx.Security {
	switch {
	case port == tlsPort:
		return mailx.SecurityTLS
	case startTLS:
		return mailx.SecurityStartTLS
	default:
		return mailx.SecurityNone
	}
}
