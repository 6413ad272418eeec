package board

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies a transport message exchanged with the room relay.
type MessageType string

const (
	// MessageJoin enters the room and seeds the relay's element cache (client → server)
	MessageJoin MessageType = "join"

	// MessageLeave exits the room (client → server)
	MessageLeave MessageType = "leave"

	// MessageElementsChange broadcasts a local edit (client → server)
	MessageElementsChange MessageType = "elements-change"

	// MessageCollaborators is the full room membership snapshot (server → client)
	MessageCollaborators MessageType = "collaborators"

	// MessageUserJoined is an incremental join notification (server → client)
	MessageUserJoined MessageType = "user-joined"

	// MessageUserLeft is an incremental leave notification (server → client)
	MessageUserLeft MessageType = "user-left"

	// MessageElementsUpdate carries a remote edit to merge (server → client)
	MessageElementsUpdate MessageType = "elements-update"
)

// Validate checks if the MessageType is a known protocol message.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageJoin, MessageLeave, MessageElementsChange,
		MessageCollaborators, MessageUserJoined, MessageUserLeft, MessageElementsUpdate:
		return nil
	default:
		return fmt.Errorf("unknown message type: %q", mt)
	}
}

// Envelope is the JSON frame every transport message travels in.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// JoinPayload is sent once the channel to the room is established.
type JoinPayload struct {
	BoardID       string    `json:"boardId"`
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	ColorToken    string    `json:"colorToken,omitempty"`
	Elements      []Element `json:"elements"`
}

// LeavePayload is sent when a session closes.
type LeavePayload struct {
	BoardID string `json:"boardId"`
}

// ElementsChangePayload broadcasts a local edit to the room.
type ElementsChangePayload struct {
	BoardID       string    `json:"boardId"`
	Elements      []Element `json:"elements"`
	ParticipantID string    `json:"participantId"`
}

// UserLeftPayload announces a participant leaving the room.
type UserLeftPayload struct {
	ParticipantID string `json:"participantId"`
}

// ElementsUpdatePayload carries a remote participant's element set.
type ElementsUpdatePayload struct {
	Elements      []Element `json:"elements"`
	ParticipantID string    `json:"participantId"`
}

// NewEnvelope wraps a payload in an envelope of the given type.
func NewEnvelope(t MessageType, payload interface{}) (Envelope, error) {
	if err := t.Validate(); err != nil {
		return Envelope{}, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}

	return Envelope{Type: t, Payload: raw}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("empty payload for %s message", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}
