// Package models defines the records kept in the encrypted store: mail
// accounts, friends, chats between the two, and the notes of each chat.
package models

import (
	"github.com/francitoshi/lettera/internal/cryptox"
)

// Account is a local mail identity. Credentials are never stored in the
// clear: EmailPassword is wrapped under (email, Name) and KeyPassphrase
// under (gpg, Name).
type Account struct {
	Name     string `json:"name"`
	Address  string `json:"address"`
	Auth     bool   `json:"auth"`
	StartTLS bool   `json:"starttls"`

	SMTPHost string `json:"smtp_host"`
	SMTPPort int    `json:"smtp_port"`
	IMAPHost string `json:"imap_host"`
	IMAPPort int    `json:"imap_port"`
	POP3Host string `json:"pop3_host"`
	POP3Port int    `json:"pop3_port"`

	Username      string          `json:"username"`
	EmailPassword cryptox.Wrapped `json:"email_password"`
	KeyID         string          `json:"keyid"`
	KeyPassphrase cryptox.Wrapped `json:"key_passphrase"`
}

// Gmail fills the server fields with Google's public endpoints.
func (a *Account) Gmail() {
	a.Auth = true
	a.StartTLS = true
	a.SMTPHost, a.SMTPPort = "smtp.gmail.com", 587
	a.IMAPHost, a.IMAPPort = "imap.gmail.com", 993
	a.POP3Host, a.POP3Port = "pop.gmail.com", 995
}

// Friend is a correspondent identified by address and public key id.
type Friend struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	KeyID   string `json:"keyid"`
}
