package provisioning

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"testing"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// encryptEnvelopeForTest is the companion side of decryptEnvelope, built the
// same way the real companion app would, to exercise the round trip.
func encryptEnvelopeForTest(t *testing.T, theirPub [32]byte, plaintext []byte) (*provisioningEnvelope, [32]byte) {
	var ourPriv, ourPub [32]byte
	_, err := rand.Read(ourPriv[:])
	require.NoError(t, err)
	curve25519.ScalarBaseMult(&ourPub, &ourPriv)

	shared, err := curve25519.X25519(ourPriv[:], theirPub[:])
	require.NoError(t, err)

	kdf := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	okm := make([]byte, 64)
	_, err = io.ReadFull(kdf, okm)
	require.NoError(t, err)
	encKey, macKey := okm[:32], okm[32:]

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	iv := make([]byte, 16)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	block, err := aes.NewCipher(encKey)
	require.NoError(t, err)
	cipherBytes := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(cipherBytes, padded)

	body := append([]byte{envelopeVer}, iv...)
	body = append(body, cipherBytes...)
	mac := hmac.New(sha256.New, macKey)
	mac.Write(body)
	body = append(body, mac.Sum(nil)...)

	return &provisioningEnvelope{
		PublicKey: base64.StdEncoding.EncodeToString(ourPub[:]),
		Body:      base64.StdEncoding.EncodeToString(body),
	}, ourPub
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytesRepeat(byte(padLen), padLen)
	return append(data, padding...)
}

func TestDecryptEnvelope_RoundTrip(t *testing.T) {
	var ephPriv, ephPub [32]byte
	_, err := rand.Read(ephPriv[:])
	require.NoError(t, err)
	curve25519.ScalarBaseMult(&ephPub, &ephPriv)

	want := provisioningBody{
		SessionID:          "session-1",
		UserID:             "user-1",
		IdentityKeyPrivate: base64.StdEncoding.EncodeToString([]byte("identity-key-seed-32-bytes-long")),
		ProvisioningCode:   "code-123",
	}
	plaintext, err := json.Marshal(want)
	require.NoError(t, err)

	env, _ := encryptEnvelopeForTest(t, ephPub, plaintext)

	got, err := decryptEnvelope(env, ephPriv)
	require.NoError(t, err)

	var decoded provisioningBody
	require.NoError(t, json.Unmarshal(got, &decoded))
	assert.Equal(t, want, decoded)
}

func TestDecryptEnvelope_RejectsTamperedMAC(t *testing.T) {
	var ephPriv, ephPub [32]byte
	_, err := rand.Read(ephPriv[:])
	require.NoError(t, err)
	curve25519.ScalarBaseMult(&ephPub, &ephPriv)

	env, _ := encryptEnvelopeForTest(t, ephPub, []byte(`{"x":1}`))

	raw, err := base64.StdEncoding.DecodeString(env.Body)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF
	env.Body = base64.StdEncoding.EncodeToString(raw)

	_, err = decryptEnvelope(env, ephPriv)
	assert.Error(t, err)
}

func TestDisplayURL_ContainsDeviceIDAndKey(t *testing.T) {
	var pub [32]byte
	copy(pub[:], []byte("0123456789abcdef0123456789abcdef"))

	url := DisplayURL("device-42", pub)
	assert.Contains(t, url, "id=device-42")
	assert.Contains(t, url, "pub_key=")
}
