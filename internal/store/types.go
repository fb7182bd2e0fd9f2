package store

// Chat is the persisted view of a one-to-one conversation.
// Group chats are filtered out before they reach the store.
type Chat struct {
	JID           string
	Name          string
	UnreadCount   int
	Archived      bool
	LastMessageAt int64 // milliseconds since epoch
}

// Message is the canonical normalized message record.
// Body is always a concrete string (placeholders stand in for captionless
// media); MediaMeta is nil unless HasMedia.
type Message struct {
	ID          int64
	ChatJID     string
	MsgID       string
	SenderJID   string
	Body        string
	MessageType string
	FromMe      bool
	HasMedia    bool
	MediaMeta   *string // JSON blob, see wa.MediaMetadata
	Ack         int
	Timestamp   int64 // milliseconds since epoch
}

// Message types produced by the normalizer.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeVideo    = "video"
	TypeAudio    = "audio"
	TypeDocument = "document"
	TypeSticker  = "sticker"
	TypeReaction = "reaction"
	TypeProtocol = "protocol"
)

// SessionStatus is the persisted singleton session row.
type SessionStatus struct {
	Status    string
	Identity  string
	Challenge string
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	ChatJID      string
	Body         string
	Status       string // queued, sending, sent, failed
	ErrorMessage string
	ServerMsgID  string
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
