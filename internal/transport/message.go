package transport

import (
	"encoding/base64"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/rbright/lookout/internal/media"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message types understood by the proxy endpoint.
const (
	TypeStartSession = "start_session"
	TypeSendFrame    = "send_frame"
	TypeSendAudio    = "send_audio"
)

// Message is one outbound JSON object.
type Message struct {
	Type      string `json:"type"`
	Data      string `json:"data,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Reply is the endpoint's JSON answer.
type Reply struct {
	Status    string `json:"status,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StartSessionMessage builds the session opener.
func StartSessionMessage() Message {
	return Message{Type: TypeStartSession}
}

// FrameMessage wraps an encoded frame.
func FrameMessage(frame media.EncodedFrame) Message {
	return Message{
		Type:      TypeSendFrame,
		Data:      base64.StdEncoding.EncodeToString(frame.Data),
		MimeType:  frame.MimeType,
		Timestamp: media.EpochMillis(frame.CapturedAt),
	}
}

// AudioMessage wraps one PCM16LE chunk.
func AudioMessage(chunk media.AudioChunk) Message {
	return Message{
		Type:      TypeSendAudio,
		Data:      base64.StdEncoding.EncodeToString(chunk.Bytes()),
		MimeType:  chunk.MimeType(),
		Timestamp: media.EpochMillis(chunk.CapturedAt),
	}
}

func encodeMessage(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s message", msg.Type)
	}
	return body, nil
}

// fields flattens the message for structpb encoding.
func (m Message) fields() map[string]any {
	out := map[string]any{"type": m.Type}
	if m.Data != "" {
		out["data"] = m.Data
	}
	if m.MimeType != "" {
		out["mime_type"] = m.MimeType
	}
	if m.Timestamp != 0 {
		out["timestamp"] = m.Timestamp
	}
	return out
}

// decodeReply parses a reply body. An empty body is an empty reply.
func decodeReply(body []byte) (Reply, error) {
	var reply Reply
	if len(body) == 0 {
		return reply, nil
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return Reply{}, errors.Wrap(err, "decode reply")
	}
	return reply, nil
}

// checkReply converts an {"error": ...} reply into an *Error.
func checkReply(op string, reply Reply) (Reply, error) {
	if reply.Error != "" {
		return reply, &Error{Op: op, Message: reply.Error}
	}
	return reply, nil
}
