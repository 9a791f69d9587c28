package calls

import (
	"strings"
	"time"
)

// Utterance is one speaker-attributed span of live transcript text.
// Start and End are offsets from the beginning of the stream.
type Utterance struct {
	Speaker string        `json:"speaker"`
	Text    string        `json:"text"`
	Start   time.Duration `json:"start"`
	End     time.Duration `json:"end"`
}

// Turn is one diarized segment of a batch transcript.
type Turn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Transcript is either plain text or a sequence of diarized turns.
// Exactly one of the two forms is populated; use PlainText or DiarizedTurns
// to build one.
type Transcript struct {
	text  string
	turns []Turn
}

func PlainText(s string) Transcript { return Transcript{text: s} }

func DiarizedTurns(turns []Turn) Transcript {
	if turns == nil {
		turns = []Turn{}
	}
	return Transcript{turns: turns}
}

// Diarized reports whether t carries speaker turns.
func (t Transcript) Diarized() bool { return t.turns != nil }

func (t Transcript) Turns() []Turn { return t.turns }

// Flatten renders the transcript as text. Turns become "speaker: text"
// lines; plain text passes through unchanged.
func (t Transcript) Flatten() string {
	if t.turns == nil {
		return t.text
	}
	lines := make([]string, 0, len(t.turns))
	for _, turn := range t.turns {
		lines = append(lines, turn.Speaker+": "+turn.Text)
	}
	return strings.Join(lines, "\n")
}

// Empty reports whether the flattened transcript has no visible text.
func (t Transcript) Empty() bool { return strings.TrimSpace(t.Flatten()) == "" }

// TurnsFromUtterances converts live utterances into transcript turns.
func TurnsFromUtterances(us []Utterance) []Turn {
	out := make([]Turn, 0, len(us))
	for _, u := range us {
		out = append(out, Turn{Speaker: u.Speaker, Text: u.Text})
	}
	return out
}
