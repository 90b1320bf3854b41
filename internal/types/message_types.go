package types

import (
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

// Inbound, client -> server.
const (
	TypeCreate        EventType = "create"
	TypeJoin          EventType = "join"
	TypeMessage       EventType = "message"
	TypeGenerateImage EventType = "generate_image"
)

// Outbound, server -> client. TypeMessage is shared by both directions.
const (
	TypeCreated        EventType = "created"
	TypeJoined         EventType = "joined"
	TypeError          EventType = "error"
	TypeHistory        EventType = "history"
	TypeImageGenerated EventType = "image_generated"
)

// Envelope is every inbound frame. Fields not used by Type are ignored.
type Envelope struct {
	Type     EventType `json:"type"`
	RoomID   string    `json:"roomId,omitempty"`
	UserName string    `json:"userName,omitempty"`
	Content  string    `json:"content"`
	Prompt   string    `json:"prompt,omitempty"`
}

func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

type Created struct {
	Type     EventType `json:"type"`
	RoomID   string    `json:"roomId"`
	UserName string    `json:"userName"`
}

type Joined struct {
	Type     EventType `json:"type"`
	RoomID   string    `json:"roomId"`
	UserName string    `json:"userName"`
}

type Error struct {
	Type    EventType `json:"type"`
	Message string    `json:"message"`
}

type HistoryEntry struct {
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

type History struct {
	Type     EventType      `json:"type"`
	Messages []HistoryEntry `json:"messages"`
}

type Message struct {
	Type      EventType `json:"type"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

type ImageGenerated struct {
	Type        EventType `json:"type"`
	ImageBase64 string    `json:"imageBase64"`
}

func NewCreated(roomID, userName string) Created {
	return Created{Type: TypeCreated, RoomID: roomID, UserName: userName}
}

func NewJoined(roomID, userName string) Joined {
	return Joined{Type: TypeJoined, RoomID: roomID, UserName: userName}
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}

func NewMessage(content, sender string, at time.Time) Message {
	return Message{Type: TypeMessage, Content: content, Sender: sender, Timestamp: at}
}

func NewImageGenerated(b64 string) ImageGenerated {
	return ImageGenerated{Type: TypeImageGenerated, ImageBase64: b64}
}
