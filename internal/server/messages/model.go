package messages

const (
	ConversationPrivate = "private"
	ConversationGroup   = "group"
)

// Message is immutable once stored. SenderNickname is a snapshot taken
// at send time.
type Message struct {
	MessageID        int64
	ConversationType string
	ConversationID   string
	SenderID         string
	SenderNickname   string
	Content          string
	CreatedAt        int64
}
