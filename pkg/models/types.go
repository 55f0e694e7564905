package models

import "time"

// InboundMessage is a chat message received by the paired account
type InboundMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"` // chat identity, a group JID for group chats
	Text      string    `json:"text"`
	IsGroup   bool      `json:"is_group"`
	HasMedia  bool      `json:"has_media"`
	Timestamp time.Time `json:"timestamp"`
}

// MediaRef points at a local media file to upload and send
type MediaRef struct {
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
}

// SessionState is the connection lifecycle as observed by the bot
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateAwaitingQR
	StateAuthenticated
	StateReady
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingQR:
		return "awaiting_qr"
	case StateAuthenticated:
		return "authenticated"
	case StateReady:
		return "ready"
	default:
		return "disconnected"
	}
}

// EventKind enumerates normalized connector events
type EventKind string

const (
	EventQR            EventKind = "qr"
	EventAuthenticated EventKind = "authenticated"
	EventReady         EventKind = "ready"
	EventDisconnected  EventKind = "disconnected"
	EventAuthFailure   EventKind = "auth_failure"
	EventMessage       EventKind = "message"
)

// SessionEvent is emitted by a connection towards its supervisor
type SessionEvent struct {
	Kind    EventKind       `json:"kind"`
	QRCode  string          `json:"qr_code,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Message *InboundMessage `json:"message,omitempty"`
}

// SessionStatus is the snapshot served by the status surface
type SessionStatus struct {
	State          string    `json:"state"`
	Ready          bool      `json:"ready"`
	HasQR          bool      `json:"has_qr"`
	Attempts       int       `json:"reconnect_attempts"`
	LastTransition time.Time `json:"last_transition"`
}
