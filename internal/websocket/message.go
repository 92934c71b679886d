package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeDocumentUpdated MessageType = "document_updated"
	TypeSyncStatus      MessageType = "sync_status"
	TypeSyncRequest     MessageType = "sync_request"
	TypeAck             MessageType = "ack"
	TypePing            MessageType = "ping"
	TypePong            MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// DocumentUpdatedPayload tells open pages which part of the trip changed so
// they can refetch it.
type DocumentUpdatedPayload struct {
	Kind   string    `json:"kind"`
	DayID  string    `json:"day_id,omitempty"`
	ItemID string    `json:"item_id,omitempty"`
	User   string    `json:"user,omitempty"`
	At     time.Time `json:"at"`
}

// SyncRequestPayload asks the server to run a sync operation.
type SyncRequestPayload struct {
	Action string `json:"action"`
	Merge  bool   `json:"merge"`
}

type AckPayload struct {
	Action  string `json:"action"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
