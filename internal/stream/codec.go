// Package stream implements the upstream quote wire protocol: the framed
// text codec, a single-connection quote streamer, the candle chart session
// and the connection scaler.
package stream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

const (
	messagePrefix   = "~m~"
	heartbeatPrefix = "~h~"
)

// WireMessage is a single protocol command or event
type WireMessage struct {
	M string        `json:"m"`
	P []interface{} `json:"p"`
}

// Encode frames each payload as ~m~<byte-length>~m~<payload> and
// concatenates the frames.
func Encode(payloads []string) string {
	var b strings.Builder
	for _, p := range payloads {
		b.WriteString(messagePrefix)
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteString(messagePrefix)
		b.WriteString(p)
	}
	return b.String()
}

// EncodeMessages marshals each command to JSON and frames the result
func EncodeMessages(msgs ...WireMessage) (string, error) {
	payloads := make([]string, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return "", fmt.Errorf("failed to encode wire message %q: %w", m.M, err)
		}
		payloads = append(payloads, string(data))
	}
	return Encode(payloads), nil
}

// Decode splits a WS message into its framed payloads, greedily consuming
// length prefixes. A malformed prefix terminates the split; everything
// decoded up to that point is still returned.
func Decode(msg string) []string {
	payloads := make([]string, 0, 1)
	for strings.HasPrefix(msg, messagePrefix) {
		msg = msg[len(messagePrefix):]
		sep := strings.Index(msg, messagePrefix)
		if sep == -1 {
			break
		}
		length, err := strconv.Atoi(msg[:sep])
		if err != nil || length < 0 {
			break
		}
		start := sep + len(messagePrefix)
		end := start + length
		if end > len(msg) {
			break
		}
		payloads = append(payloads, msg[start:end])
		msg = msg[end:]
	}
	return payloads
}

// IsHeartbeat reports whether the payload is a ~h~ heartbeat that must be
// echoed back verbatim.
func IsHeartbeat(payload string) bool {
	return strings.HasPrefix(payload, heartbeatPrefix)
}
