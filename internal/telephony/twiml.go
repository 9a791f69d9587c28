package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlStart struct {
	XMLName xml.Name    `xml:"Start"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL   string `xml:"url,attr"`
	Track string `xml:"track,attr,omitempty"`
}

type twimlDial struct {
	XMLName                 xml.Name `xml:"Dial"`
	Timeout                 int      `xml:"timeout,attr,omitempty"`
	Record                  string   `xml:"record,attr,omitempty"`
	RecordingStatusCallback string   `xml:"recordingStatusCallback,attr,omitempty"`
	Number                  string   `xml:"Number"`
}

// ConnectOptions drives the agent connect response.
type ConnectOptions struct {
	AgentName   string
	AgentPhone  string
	StreamURL   string // wss:// media stream endpoint; empty disables live transcription
	RecordingCB string // recording status callback URL
	Timeout     int
}

// RenderConnect greets the caller, forks audio to the media stream and
// dials the agent with dual-channel recording.
func RenderConnect(o ConnectOptions) (string, error) {
	if strings.TrimSpace(o.AgentPhone) == "" {
		return "", errors.New("telephony: agent phone required for connect")
	}
	var r twimlResponse
	r.Verbs = append(r.Verbs, twimlSay{Voice: "alice", Text: "Connecting you with " + o.AgentName + ". Please hold."})
	if o.StreamURL != "" {
		r.Verbs = append(r.Verbs, twimlStart{Stream: twimlStream{URL: o.StreamURL, Track: "both_tracks"}})
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 30
	}
	r.Verbs = append(r.Verbs, twimlDial{
		Timeout:                 timeout,
		Record:                  "record-from-answer-dual",
		RecordingStatusCallback: o.RecordingCB,
		Number:                  o.AgentPhone,
	})
	return render(r)
}

// RenderUnavailable speaks message and ends the call.
func RenderUnavailable(message string) (string, error) {
	var r twimlResponse
	r.Verbs = append(r.Verbs, twimlSay{Text: message})
	return render(r)
}

func render(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
