package models

import (
	"bytes"
	"fmt"
	"strings"
)

// Chat pairs one Account with one Friend. It snapshots the identifying
// fields of both at creation time so later edits can be detected.
type Chat struct {
	ID             string `json:"id"`
	AccountName    string `json:"account_name"`
	AccountAddress string `json:"account_address"`
	AccountKeyID   string `json:"account_keyid"`
	FriendName     string `json:"friend_name"`
	FriendAddress  string `json:"friend_address"`
	FriendKeyID    string `json:"friend_keyid"`
	SharedSecret   []byte `json:"shared_secret,omitempty"`
}

// ChatID is the identifier of the chat between account and friend.
func ChatID(accountName, friendName string) string {
	return accountName + "-" + friendName
}

// BuildChat derives a chat from the current account and friend records.
func BuildChat(a Account, f Friend, sharedSecret []byte) Chat {
	return Chat{
		ID:             ChatID(a.Name, f.Name),
		AccountName:    a.Name,
		AccountAddress: a.Address,
		AccountKeyID:   a.KeyID,
		FriendName:     f.Name,
		FriendAddress:  f.Address,
		FriendKeyID:    f.KeyID,
		SharedSecret:   sharedSecret,
	}
}

// Subject is the mail subject used for notes sent from the account side.
func (c Chat) Subject() string {
	return "lettera " + c.AccountKeyID + "-" + c.FriendKeyID
}

// ReplySubject is the subject the friend uses when writing back.
func (c Chat) ReplySubject() string {
	return "lettera " + c.FriendKeyID + "-" + c.AccountKeyID
}

// Equal compares every field, SharedSecret included.
func (c Chat) Equal(o Chat) bool {
	return len(c.Diff(o)) == 0 && c.ID == o.ID
}

// FieldChange is a single differing field between two chats.
type FieldChange struct {
	Field string
	Old   string
	New   string
}

// Diff lists the fields of o that differ from c, in declaration order.
type Diff []FieldChange

// Diff returns the field-level differences going from c to o. The shared
// secret is reported as changed but never printed.
func (c Chat) Diff(o Chat) Diff {
	var d Diff
	add := func(field, a, b string) {
		if a != b {
			d = append(d, FieldChange{Field: field, Old: a, New: b})
		}
	}
	add("accountName", c.AccountName, o.AccountName)
	add("accountAddress", c.AccountAddress, o.AccountAddress)
	add("accountKeyid", c.AccountKeyID, o.AccountKeyID)
	add("friendName", c.FriendName, o.FriendName)
	add("friendAddress", c.FriendAddress, o.FriendAddress)
	add("friendKeyid", c.FriendKeyID, o.FriendKeyID)
	if !bytes.Equal(c.SharedSecret, o.SharedSecret) {
		d = append(d, FieldChange{Field: "sharedSecret", Old: "***", New: "***"})
	}
	return d
}

// String renders one "field: old >> new" line per change.
func (d Diff) String() string {
	var sb strings.Builder
	for _, ch := range d {
		fmt.Fprintf(&sb, "%s: %s >> %s\n", ch.Field, ch.Old, ch.New)
	}
	return sb.String()
}
