/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus carries scheduler events out of process over NATS or
// Redis pub/sub. Both buses also deliver to local subscribers and keep
// working in-memory when the broker is unreachable.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/hydroclip/internal/events"
)

// SubjectPrefix prefixes every NATS subject and Redis channel.
const SubjectPrefix = "hydroclip.events."

// Subject returns the subject or channel an event type is published on.
func Subject(eventType events.EventType) string {
	return SubjectPrefix + string(eventType)
}

// Message is the JSON envelope written to the broker.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func marshalMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(Message{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	})
}

// DecodeMessage parses an envelope read from the broker.
func DecodeMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal event message: %w", err)
	}
	return &msg, nil
}

// NodeID identifies this process in published messages.
func NodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "hydroclip"
	}
	return host + "-" + uuid.NewString()[:8]
}
