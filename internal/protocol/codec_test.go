package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		{Command: &Command{Type: CmdPlay, StationIdx: 5}},
		{Command: &Command{Type: CmdVolume, Volume: 0.75}},
		{Command: &Command{Type: CmdGetState}},
		{Broadcast: &Broadcast{Type: BcastIcy, Title: strPtr("Now Playing")}},
		{Broadcast: &Broadcast{Type: BcastLog, Message: "engine restarted"}},
		{Broadcast: &Broadcast{
			Type:            BcastHello,
			ProtocolVersion: ProtocolVersion,
			Rev:             42,
			State: &DaemonState{
				Rev:            42,
				CurrentStation: intPtr(1),
			},
		}},
	}

	for _, msg := range cases {
		encoded, err := Encode(msg)
		require.NoError(t, err)

		decoded, consumed, err := Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, len(encoded), consumed)

		reencoded, err := Encode(decoded)
		require.NoError(t, err)
		assert.Equal(t, encoded, reencoded)
	}
}

func TestDecodeNeedsMoreData(t *testing.T) {
	msg := Message{Command: &Command{Type: CmdStop}}
	encoded, err := Encode(msg)
	require.NoError(t, err)

	for i := 0; i < len(encoded); i++ {
		_, consumed, err := Decode(encoded[:i])
		require.ErrorIs(t, err, ErrNeedMoreData)
		assert.Equal(t, 0, consumed)
	}
}

func TestDecodeEmptyBuffer(t *testing.T) {
	_, consumed, err := Decode(nil)
	require.ErrorIs(t, err, ErrNeedMoreData)
	assert.Equal(t, 0, consumed)
}

func TestDecodeFrameTooLarge(t *testing.T) {
	buf := make([]byte, 4)
	buf[0] = 0xFF
	buf[1] = 0xFF
	buf[2] = 0xFF
	buf[3] = 0xFF

	_, _, err := Decode(buf)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeMalformedJSONConsumesFrame(t *testing.T) {
	// A well-framed length but invalid JSON payload: the frame is
	// discarded (bytes consumed) but the caller can continue reading.
	payload := []byte("{not json")
	buf := make([]byte, 4+len(payload))
	buf[3] = byte(len(payload))
	copy(buf[4:], payload)

	_, consumed, err := Decode(buf)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNeedMoreData)
	assert.Equal(t, len(buf), consumed)
}

func TestDroppable(t *testing.T) {
	assert.True(t, Broadcast{Type: BcastPcm}.Droppable())
	assert.True(t, Broadcast{Type: BcastAudioLevel}.Droppable())
	assert.False(t, Broadcast{Type: BcastState}.Droppable())
	assert.False(t, Broadcast{Type: BcastIcy}.Droppable())
	assert.False(t, Broadcast{Type: BcastLog}.Droppable())
	assert.False(t, Broadcast{Type: BcastError}.Droppable())
}
