package compose

import (
	"encoding/base64"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_NoResend(t *testing.T) {
	m := &Message{KeyType: KeyTypeWhisper, Cipher: []byte("ciphertext-bytes")}

	enc, err := Encode(m)
	require.NoError(t, err)

	dec, err := Decode(enc)
	require.NoError(t, err)

	assert.Equal(t, m.KeyType, dec.KeyType)
	assert.Equal(t, m.Cipher, dec.Cipher)
	assert.Empty(t, dec.ResendMessageID)
}

func TestRoundTrip_WithResend(t *testing.T) {
	m := &Message{
		KeyType:         KeyTypePreKey,
		ResendMessageID: "123e4567-e89b-12d3-a456-426614174000",
		Cipher:          []byte{1, 2, 3, 4},
	}

	enc, err := Encode(m)
	require.NoError(t, err)

	dec, err := Decode(enc)
	require.NoError(t, err)

	assert.Equal(t, m.ResendMessageID, dec.ResendMessageID)
	assert.Equal(t, m.Cipher, dec.Cipher)
}

func TestRoundTrip_Property(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		m := &Message{KeyType: KeyType(r.Intn(256))}
		if r.Intn(2) == 0 {
			m.ResendMessageID = fmt.Sprintf("%036d", i)[:36]
		}
		m.Cipher = make([]byte, r.Intn(64))
		r.Read(m.Cipher)

		enc, err := Encode(m)
		require.NoError(t, err)

		dec, err := Decode(enc)
		require.NoError(t, err)

		assert.Equal(t, m.KeyType, dec.KeyType)
		assert.Equal(t, m.ResendMessageID, dec.ResendMessageID)
		assert.Equal(t, m.Cipher, dec.Cipher)
	}
}

func TestDecode_RejectsEmpty(t *testing.T) {
	_, err := Decode("")
	assert.Error(t, err)
}

func TestDecode_RejectsWrongVersion(t *testing.T) {
	m := &Message{KeyType: KeyTypeWhisper, Cipher: []byte("x")}
	enc, err := Encode(m)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(enc)
	require.NoError(t, err)
	raw[0] = 9

	_, err = Decode(base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}

func TestDecode_RejectsShortHeader(t *testing.T) {
	_, err := Decode(base64.StdEncoding.EncodeToString([]byte{3, 2, 0}))
	assert.Error(t, err)
}
