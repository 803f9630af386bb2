package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is immutable once sent. SenderID and RecipientID are unset for
// messages read from a backend that only reports the sender's name.
type Message struct {
	ID          string     `db:"id" json:"id"`
	SenderID    *uuid.UUID `db:"physician_id" json:"sender_id,omitempty"`
	SenderName  string     `db:"sender" json:"sender,omitempty"`
	RecipientID *uuid.UUID `db:"patient_id" json:"recipient_id,omitempty"`
	Subject     string     `db:"subject" json:"subject"`
	Body        string     `db:"body" json:"body,omitempty"`
	Sent        time.Time  `db:"sent" json:"sent"`
}

// Filter narrows List. Nil ids match any; Limit <= 0 means no limit.
type Filter struct {
	SenderID    *uuid.UUID
	RecipientID *uuid.UUID
	Limit       int
}

// Gateway stores and retrieves messages. Send fills in ID and Sent.
type Gateway interface {
	Send(ctx context.Context, m *Message) error
	List(ctx context.Context, f Filter) ([]*Message, error)
}
