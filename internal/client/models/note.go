package models

// Note is one message of a chat. Time is its key within the chat (unix
// milliseconds, strictly increasing per chat). Outgoing notes start with
// Sent == 0 and get Sent set exactly once after a successful send;
// incoming notes carry the time they were received.
type Note struct {
	Time      int64  `json:"time"`
	SessionID string `json:"session"`
	From      string `json:"from"`
	To        string `json:"to"`
	KeyFrom   string `json:"key_from"`
	KeyTo     string `json:"key_to"`
	Received  int64  `json:"received,omitempty"`
	Sent      int64  `json:"sent,omitempty"`
	Text      string `json:"text"`
	// MessageID is the mail Message-ID the note travelled in.
	MessageID string `json:"message_id,omitempty"`
}

// Outgoing reports whether the note was written locally.
func (n Note) Outgoing() bool {
	return n.Received == 0
}

// Pending reports whether an outgoing note still has to be sent.
func (n Note) Pending() bool {
	return n.Outgoing() && n.Sent == 0
}

// NewOutgoing builds an unsent note from the account side of c.
func NewOutgoing(c Chat, text string) Note {
	return Note{
		SessionID: c.ID,
		From:      c.AccountAddress,
		To:        c.FriendAddress,
		KeyFrom:   c.AccountKeyID,
		KeyTo:     c.FriendKeyID,
		Text:      text,
	}
}
