package storage

import (
	"time"

	"github.com/google/uuid"
)

// User statuses.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
	StatusAway    = "away"
)

// Message types.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeVoice = "voice"
)

// Membership roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Friend request statuses.
const (
	RequestPending  = "pending"
	RequestAccepted = "accepted"
	RequestRejected = "rejected"
)

// Notification types.
const (
	NotificationFriendRequest  = "friend_request"
	NotificationFriendAccepted = "friend_accepted"
	NotificationMessage        = "message"
	NotificationMention        = "mention"
)

// Tombstone substituted for a deleted message's content. The row itself is
// retained so ordering and reply chains stay intact.
const Tombstone = "This message was deleted"

type User struct {
	ID       uuid.UUID `json:"id"`
	Subject  string    `json:"-"`
	Email    string    `json:"email"`
	Username string    `json:"username"`
	FullName *string   `json:"fullName,omitempty"`
	ImageURL *string   `json:"imageUrl,omitempty"`
	Bio      *string   `json:"bio,omitempty"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"lastSeen"`
}

type Conversation struct {
	ID            uuid.UUID   `json:"id"`
	IsGroup       bool        `json:"isGroup"`
	Name          *string     `json:"name,omitempty"`
	GroupImage    *string     `json:"groupImage,omitempty"`
	AdminIDs      []uuid.UUID `json:"adminIds,omitempty"`
	CreatedBy     uuid.UUID   `json:"createdBy"`
	CreatedAt     time.Time   `json:"createdAt"`
	LastMessageAt *time.Time  `json:"lastMessageAt,omitempty"`
}

type Message struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversationId"`
	SenderID       uuid.UUID  `json:"senderId"`
	Content        *string    `json:"content,omitempty"`
	MessageType    string     `json:"messageType"`
	FileURL        *string    `json:"fileUrl,omitempty"`
	FileName       *string    `json:"fileName,omitempty"`
	FileSize       *int64     `json:"fileSize,omitempty"`
	ReplyToID      *uuid.UUID `json:"replyToId,omitempty"`
	ForwardedFrom  *uuid.UUID `json:"forwardedFrom,omitempty"`
	SentAt         time.Time  `json:"sentAt"`
	EditedAt       *time.Time `json:"editedAt,omitempty"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
}

type Reaction struct {
	ID        uuid.UUID `json:"id"`
	MessageID uuid.UUID `json:"messageId"`
	UserID    uuid.UUID `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
	User      *User     `json:"user,omitempty"`
}

type FriendRequest struct {
	ID          uuid.UUID  `json:"id"`
	SenderID    uuid.UUID  `json:"senderId"`
	ReceiverID  uuid.UUID  `json:"receiverId"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
	Sender      *User      `json:"sender,omitempty"`
}

type TypingIndicator struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	IsTyping       bool      `json:"isTyping"`
	UpdatedAt      time.Time `json:"updatedAt"`
	User           *User     `json:"user,omitempty"`
}

// RepliedMessage is the reply target resolved for a message view.
type RepliedMessage struct {
	Message
	Sender *User `json:"sender,omitempty"`
}

// MessageView is a message joined with its sender, reactions and reply target.
type MessageView struct {
	Message
	Sender    *User           `json:"sender,omitempty"`
	Reactions []Reaction      `json:"reactions"`
	ReplyTo   *RepliedMessage `json:"replyTo,omitempty"`
}

// ConversationView is a conversation joined with member profiles, the most
// recent message and the caller-specific unread count and display fields.
type ConversationView struct {
	Conversation
	Members      []User   `json:"members"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
	UnreadCount  int64    `json:"unreadCount"`
	DisplayName  string   `json:"displayName"`
	DisplayImage *string  `json:"displayImage,omitempty"`
}
