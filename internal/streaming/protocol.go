package streaming

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Twilio media stream events.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventStop      = "stop"
	EventMark      = "mark"
)

var ErrMalformedMessage = errors.New("streaming: malformed message")

type StartInfo struct {
	CallSID     string `json:"callSid"`
	StreamSID   string `json:"streamSid"`
	AccountSID  string `json:"accountSid,omitempty"`
	MediaFormat struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type MediaInfo struct {
	Track     string `json:"track,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

// Message is one frame of the media stream socket.
type Message struct {
	Event     string     `json:"event"`
	StreamSID string     `json:"streamSid,omitempty"`
	Start     *StartInfo `json:"start,omitempty"`
	Media     *MediaInfo `json:"media,omitempty"`
}

func ParseMessage(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch m.Event {
	case EventStart:
		if m.Start == nil || m.Start.CallSID == "" {
			return Message{}, fmt.Errorf("%w: start without callSid", ErrMalformedMessage)
		}
	case EventMedia:
		if m.Media == nil {
			return Message{}, fmt.Errorf("%w: media without payload", ErrMalformedMessage)
		}
	case "":
		return Message{}, fmt.Errorf("%w: missing event", ErrMalformedMessage)
	}
	return m, nil
}

// Audio decodes the base64 payload of a media message.
func (m Message) Audio() ([]byte, error) {
	if m.Media == nil {
		return nil, ErrMalformedMessage
	}
	b, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return b, nil
}
