// Package envelope implements the wire codec for the Link: a JSON envelope
// gzip-compressed into a single binary frame.
package envelope

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
)

// Action tags the purpose of an envelope.
type Action string

// Recognized actions.
const (
	ActionListPendingMessages         Action = "LIST_PENDING_MESSAGES"
	ActionAcknowledgeMessageReceipt   Action = "ACKNOWLEDGE_MESSAGE_RECEIPT"
	ActionAcknowledgeMessageReceipts  Action = "ACKNOWLEDGE_MESSAGE_RECEIPTS"
	ActionCreateMessage               Action = "CREATE_MESSAGE"
	ActionCreateCall                  Action = "CREATE_CALL"
	ActionCreateKraken                Action = "CREATE_KRAKEN"
	ActionCreateSignalKeyMessages     Action = "CREATE_SIGNAL_KEY_MESSAGES"
	ActionConsumeSessionSignalKeys    Action = "CONSUME_SESSION_SIGNAL_KEYS"
	ActionCountSignalKeys             Action = "COUNT_SIGNAL_KEYS"
	ActionSyncSignalKeys              Action = "SYNC_SIGNAL_KEYS"
	ActionError                       Action = "ERROR"
)

// ServerError is the typed error payload a server reply may carry.
type ServerError struct {
	Status      int    `json:"status"`
	Code        int    `json:"code"`
	Description string `json:"description"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Description)
}

// Envelope is the unit exchanged over the Link.
type Envelope struct {
	ID     string          `json:"id"`
	Action Action          `json:"action"`
	Params json.RawMessage `json:"params,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  *ServerError    `json:"error,omitempty"`
}

// Encode serializes e to JSON then gzip-compresses it at the fastest level.
func Encode(e *Envelope) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal: %w", err)
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, fmt.Errorf("envelope: gzip writer: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		return nil, fmt.Errorf("envelope: gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("envelope: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode gunzips frame then JSON-decodes it into an Envelope.
func Decode(frame []byte) (*Envelope, error) {
	zr, err := gzip.NewReader(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("envelope: gzip reader: %w", err)
	}
	defer zr.Close()

	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("envelope: gzip read: %w", err)
	}

	var e Envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("envelope: unmarshal: %w", err)
	}
	return &e, nil
}
