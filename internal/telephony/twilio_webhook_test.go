package telephony

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"call-lead-pipeline/internal/calls"
)

func formRequest(path, body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseRecordingStatus(t *testing.T) {
	r := formRequest(PathRecordingStatus, "CallSid=CA123&RecordingSid=RE9&RecordingUrl=https%3A%2F%2Fapi.twilio.com%2F2010-04-01%2FAccounts%2FAC1%2FRecordings%2FRE9&RecordingStatus=completed&RecordingDuration=42")
	form, err := ParseRecordingStatus(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	ev := form.ToRecordingEvent()
	if ev.CallID != "CA123" || ev.RecordingID != "RE9" || ev.DurationSeconds != 42 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.Trigger() {
		t.Fatalf("completed recording with url should trigger")
	}
}

func TestParseCallStatus(t *testing.T) {
	r := formRequest(PathCallStatus, "CallSid=CA123&From=%2B15551234567&To=%2B15557654321&CallStatus=in-progress&CallDuration=&Direction=outbound-api")
	form, err := ParseCallStatus(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	p := form.ToPatch()
	if p.From == nil || *p.From != "+15551234567" || p.To == nil || *p.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %+v", p)
	}
	if p.Status == nil || *p.Status != calls.CallStatusInProgress {
		t.Fatalf("expected normalized status, got %v", p.Status)
	}
	if p.DurationSeconds != nil || p.CustomerName != nil {
		t.Fatalf("empty fields must not be written: %+v", p)
	}
}

func TestRecordingMediaURL(t *testing.T) {
	if got := RecordingMediaURL("https://api.twilio.com/Recordings/RE1"); got != "https://api.twilio.com/Recordings/RE1.mp3" {
		t.Fatalf("unexpected url %s", got)
	}
	if got := RecordingMediaURL("https://api.twilio.com/Recordings/RE1.wav"); got != "https://api.twilio.com/Recordings/RE1.wav" {
		t.Fatalf("extension must be kept, got %s", got)
	}
}
