package models

import (
	"encoding/json"
	"errors"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrEmailExists = errors.New("email already registered")
)

// User represents a registered account. The password hash lives in the auth
// layer's credentials, never here.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FullName  string `json:"fullName"`
	AvatarID  string `json:"avatarId,omitempty"`
	CreatedAt int64  `json:"createdAt"` // Unix timestamp (seconds)
}

// Message is immutable once created. Seq is assigned by the store at
// creation time and orders the conversation.
type Message struct {
	ID         string `json:"id"`
	Seq        int64  `json:"seq"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text,omitempty"`
	HTML       string `json:"html,omitempty"`
	ImageID    string `json:"imageId,omitempty"`
	CreatedAt  int64  `json:"createdAt"` // Unix timestamp (seconds)
}

// ClientEvent is sent by the client over the realtime channel.
type ClientEvent struct {
	Type         ClientEventType `json:"type"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// ServerEvent is pushed to a client over the realtime channel.
type ServerEvent struct {
	Type     ServerEventType `json:"type"`
	Online   []string        `json:"online,omitempty"`
	Message  *Message        `json:"message,omitempty"`
	SenderID string          `json:"senderId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type ClientEventType string

const (
	ClientEventTypeSendDirect ClientEventType = "sendDirect"
)

type ServerEventType string

const (
	ServerEventTypePresenceChanged  ServerEventType = "presenceChanged"
	ServerEventTypeMessageDelivered ServerEventType = "messageDelivered"
	ServerEventTypeDirect           ServerEventType = "direct"
)

// APIResponse is the generic envelope for REST endpoints without a richer payload.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
