package amqp

import (
	"encoding/json"
	"errors"
	"time"
)

// CategorizeBatchMessage asks the worker to categorize one ingestion batch.
// It carries only the batch id; the worker reads the rows from the database.
type CategorizeBatchMessage struct {
	BatchID   string    `json:"batch_id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewCategorizeBatchMessage creates a message for batchID stamped with the current time
func NewCategorizeBatchMessage(batchID string) *CategorizeBatchMessage {
	return &CategorizeBatchMessage{
		BatchID:   batchID,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *CategorizeBatchMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CategorizeBatchMessageFromJSON decodes a message and rejects one without a batch id.
func CategorizeBatchMessageFromJSON(data []byte) (*CategorizeBatchMessage, error) {
	var msg CategorizeBatchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.BatchID == "" {
		return nil, errors.New("message has no batch_id")
	}
	return &msg, nil
}
