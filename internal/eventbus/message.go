/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus fans events out across instances. Each bus delivers
// locally through an events.Bus and mirrors publishes to a shared transport;
// messages from other nodes are delivered locally only.
package eventbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/slotmarket/internal/events"
)

const subjectPrefix = "slotmarket.events."

// message is the wire envelope shared by all transports.
type message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

func unmarshalMessage(data []byte) (*message, error) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	if msg.EventType == "" {
		return nil, fmt.Errorf("event message %s has no type", msg.MessageID)
	}
	return &msg, nil
}

// remotePayload tags the payload with the publishing node.
func (m *message) remotePayload() events.Payload {
	if m.Payload == nil {
		m.Payload = events.Payload{}
	}
	m.Payload[events.OriginKey] = m.NodeID
	return m.Payload
}

func subject(eventType events.EventType) string {
	return subjectPrefix + string(eventType)
}

func eventTypeFromSubject(s string) events.EventType {
	return events.EventType(strings.TrimPrefix(s, subjectPrefix))
}

// NodeID returns id, or a generated one when id is empty.
func NodeID(id string) string {
	if id != "" {
		return id
	}
	return "node-" + uuid.NewString()[:8]
}
