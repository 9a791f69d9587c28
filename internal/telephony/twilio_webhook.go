package telephony

import (
	"net/http"
	"strconv"
	"strings"

	"call-lead-pipeline/internal/calls"
	"call-lead-pipeline/internal/pipeline"
)

// Twilio sends application/x-www-form-urlencoded webhooks.
// Ref: https://www.twilio.com/docs/voice/api/recording#recordingstatuscallback
//
// Parsing stays at the adapter boundary; pipeline decisions are not made here.

type RecordingStatusForm struct {
	AccountSid        string
	CallSid           string
	RecordingSid      string
	RecordingURL      string
	RecordingStatus   string
	RecordingDuration int
	RecordingChannels string
}

func ParseRecordingStatus(r *http.Request) (RecordingStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return RecordingStatusForm{}, err
	}
	return RecordingStatusForm{
		AccountSid:        r.PostFormValue("AccountSid"),
		CallSid:           strings.TrimSpace(r.PostFormValue("CallSid")),
		RecordingSid:      strings.TrimSpace(r.PostFormValue("RecordingSid")),
		RecordingURL:      strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		RecordingStatus:   strings.TrimSpace(r.PostFormValue("RecordingStatus")),
		RecordingDuration: atoi(r.PostFormValue("RecordingDuration")),
		RecordingChannels: r.PostFormValue("RecordingChannels"),
	}, nil
}

func (f RecordingStatusForm) ToRecordingEvent() pipeline.RecordingEvent {
	return pipeline.RecordingEvent{
		RecordingID:     f.RecordingSid,
		RecordingStatus: f.RecordingStatus,
		RecordingURL:    f.RecordingURL,
		CallID:          f.CallSid,
		DurationSeconds: f.RecordingDuration,
	}
}

// CallStatusForm captures the voice status callback and the voice webhook,
// which share these fields.
type CallStatusForm struct {
	CallSid      string
	AccountSid   string
	From         string
	To           string
	Direction    string
	CallStatus   string
	CallDuration int
	CallerName   string
}

func ParseCallStatus(r *http.Request) (CallStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return CallStatusForm{}, err
	}
	return CallStatusForm{
		CallSid:      strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:   r.PostFormValue("AccountSid"),
		From:         normalizePhone(r.PostFormValue("From")),
		To:           normalizePhone(r.PostFormValue("To")),
		Direction:    r.PostFormValue("Direction"),
		CallStatus:   r.PostFormValue("CallStatus"),
		CallDuration: atoi(r.PostFormValue("CallDuration")),
		CallerName:   strings.TrimSpace(r.PostFormValue("CallerName")),
	}, nil
}

// ToPatch maps the form onto call metadata. Empty values are not written.
func (f CallStatusForm) ToPatch() calls.Patch {
	var p calls.Patch
	set := func(dst **string, v string) {
		if v != "" {
			*dst = calls.Ptr(v)
		}
	}
	set(&p.From, f.From)
	set(&p.To, f.To)
	set(&p.Direction, f.Direction)
	set(&p.CustomerName, f.CallerName)
	if f.CallStatus != "" {
		p.Status = calls.Ptr(calls.NormalizeCallStatus(f.CallStatus))
	}
	if f.CallDuration > 0 {
		p.DurationSeconds = calls.Ptr(f.CallDuration)
	}
	return p
}

func normalizePhone(s string) string {
	s = strings.TrimSpace(s)
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return s
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
