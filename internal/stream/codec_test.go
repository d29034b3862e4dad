package stream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSingleFrame(t *testing.T) {
	assert.Equal(t, `~m~12~m~{"m":"ping"}`, Encode([]string{`{"m":"ping"}`}))
}

func TestEncodeMessages(t *testing.T) {
	encoded, err := EncodeMessages(WireMessage{M: "set_locale", P: []interface{}{"en", "IN"}})
	require.NoError(t, err)
	assert.Equal(t, `~m~34~m~{"m":"set_locale","p":["en","IN"]}`, encoded)
}

func TestDecodeConcatenatedFrames(t *testing.T) {
	assert.Equal(t, []string{"{}", "[]"}, Decode("~m~2~m~{}~m~2~m~[]"))
}

func TestDecodeRoundTrip(t *testing.T) {
	payloads := []string{
		`{"m":"qsd","p":["qs_abc",{"n":"NSE:TCS","v":{"lp":4100.5}}]}`,
		`{"m":"quote_completed","p":["qs_abc","NSE:TCS"]}`,
		"~h~7",
	}
	encoded := Encode(payloads)
	assert.Equal(t, payloads, Decode(encoded))

	// The length prefix of each frame counts payload bytes
	for _, p := range payloads {
		assert.Contains(t, encoded, fmt.Sprintf("~m~%d~m~%s", len(p), p))
	}
}

func TestDecodeMalformed(t *testing.T) {
	// Garbage before any prefix yields nothing
	assert.Empty(t, Decode("hello"))
	// A truncated frame keeps what decoded before it
	assert.Equal(t, []string{"{}"}, Decode("~m~2~m~{}~m~50~m~{"))
	// A non-numeric length terminates the split
	assert.Empty(t, Decode("~m~xx~m~{}"))
}

func TestIsHeartbeat(t *testing.T) {
	assert.True(t, IsHeartbeat("~h~42"))
	assert.False(t, IsHeartbeat(`{"m":"ping"}`))
}

func TestGenSessionID(t *testing.T) {
	id := genSessionID("qs")
	assert.Len(t, id, len("qs_")+sessionIDLength)
	assert.Equal(t, "qs_", id[:3])
}
