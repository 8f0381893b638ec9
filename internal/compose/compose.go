// Package compose implements the versioned binary framing carried inside
// signal payloads: a key type tag, an optional resend-message reference,
// and the cipher bytes, base64-encoded for transport.
package compose

import (
	"encoding/base64"
	"fmt"
)

// Version is the only framing version this codec understands.
const Version = 3

// KeyType identifies the ciphertext variant carried by a Message.
type KeyType uint8

// Recognized key types.
const (
	KeyTypeWhisper                 KeyType = 2
	KeyTypePreKey                  KeyType = 3
	KeyTypeSenderKey               KeyType = 4
	KeyTypeSenderKeyDistribution   KeyType = 5
)

const resendIDLen = 36 // a UUID string

// Message is the decoded form of a compose-message frame.
type Message struct {
	KeyType         KeyType
	ResendMessageID string // empty if absent
	Cipher          []byte
}

// Encode renders m as
// base64(version | key_type | resend_flag | 5 zero padding bytes | [resend_id(36)] | cipher).
func Encode(m *Message) (string, error) {
	if m.ResendMessageID != "" && len(m.ResendMessageID) != resendIDLen {
		return "", fmt.Errorf("compose: resend message id must be %d bytes, got %d", resendIDLen, len(m.ResendMessageID))
	}

	resendFlag := byte(0)
	if m.ResendMessageID != "" {
		resendFlag = 1
	}

	header := make([]byte, 0, 8+resendIDLen+len(m.Cipher))
	header = append(header, byte(Version), byte(m.KeyType), resendFlag)
	header = append(header, make([]byte, 5)...) // padding
	if resendFlag == 1 {
		header = append(header, []byte(m.ResendMessageID)...)
	}
	header = append(header, m.Cipher...)

	return base64.StdEncoding.EncodeToString(header), nil
}

// Decode parses a compose-message frame previously produced by Encode.
func Decode(encoded string) (*Message, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("compose: base64 decode: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("compose: empty input")
	}
	if len(raw) < 8 {
		return nil, fmt.Errorf("compose: short header (%d bytes)", len(raw))
	}
	if raw[0] != Version {
		return nil, fmt.Errorf("compose: unsupported version %d", raw[0])
	}

	keyType := KeyType(raw[1])
	resendFlag := raw[2]
	// raw[3:8] is padding, ignored.
	rest := raw[8:]

	m := &Message{KeyType: keyType}
	switch resendFlag {
	case 0:
		m.Cipher = rest
	case 1:
		if len(rest) < resendIDLen {
			return nil, fmt.Errorf("compose: resend flag set but body too short for resend id")
		}
		m.ResendMessageID = string(rest[:resendIDLen])
		m.Cipher = rest[resendIDLen:]
	default:
		return nil, fmt.Errorf("compose: invalid resend flag %d", resendFlag)
	}

	return m, nil
}
