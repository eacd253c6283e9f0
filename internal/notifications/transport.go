package notifications

import "context"

// InlineImage is an image embedded in the HTML body via Content-ID.
type InlineImage struct {
	Name      string
	ContentID string
	Data      []byte
}

// Message is one rendered reminder ready for delivery.
type Message struct {
	To       []string
	BCC      []string
	Subject  string
	TextBody string
	HTMLBody string
	Inline   []InlineImage
}

// Conn is a live delivery connection. One Conn serves a whole batch of
// messages, then closes.
type Conn interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Transport opens delivery connections. Open errors are transient by
// assumption; the processor retries opening before failing a batch.
type Transport interface {
	Open(ctx context.Context) (Conn, error)
}
