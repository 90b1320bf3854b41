package room

import (
	"time"

	"github.com/google/uuid"
)

// ConnID identifies one live channel from connect to disconnect.
type ConnID = uuid.UUID

type Message struct {
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

func newMessage(content, sender string) Message {
	return Message{
		Content:   content,
		Sender:    sender,
		Timestamp: time.Now().UTC(),
	}
}

// Snapshot is the persisted form of a room. Participants are never part of
// it: a restored room always starts empty.
type Snapshot struct {
	Code              string    `json:"code"`
	History           []Message `json:"history"`
	AssignedNames     []string  `json:"assignedNames"`
	AssistantIdentity string    `json:"assistantIdentity"`
	UpdatedAt         time.Time `json:"updatedAt"`
}
