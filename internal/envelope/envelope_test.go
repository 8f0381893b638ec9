package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	in := &Envelope{
		ID:     "env-1",
		Action: ActionCreateMessage,
		Data:   []byte(`{"message_id":"m1"}`),
	}

	frame, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(frame)
	require.NoError(t, err)

	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Action, out.Action)
	assert.JSONEq(t, string(in.Data), string(out.Data))
}

func TestDecode_InvalidFrame(t *testing.T) {
	_, err := Decode([]byte("not gzip"))
	assert.Error(t, err)
}

func TestEncode_CarriesServerError(t *testing.T) {
	in := &Envelope{
		ID:     "env-2",
		Action: ActionError,
		Error:  &ServerError{Status: 403, Code: 403, Description: "forbidden"},
	}

	frame, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(frame)
	require.NoError(t, err)
	require.NotNil(t, out.Error)
	assert.Equal(t, 403, out.Error.Code)
}
