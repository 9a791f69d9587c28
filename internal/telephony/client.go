package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const twilioAPIBase = "https://api.twilio.com"

var ErrTwilioNotConfigured = errors.New("telephony: twilio credentials not configured")

// TwilioClient is a thin REST client: recording downloads and outbound call
// creation. It implements transcription.RecordingFetcher.
type TwilioClient struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTP       *http.Client
	// MaxElapsed bounds retries of recording downloads.
	MaxElapsed time.Duration
}

func NewTwilioClient(accountSID, authToken string, client *http.Client) *TwilioClient {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &TwilioClient{
		AccountSID: accountSID,
		AuthToken:  authToken,
		BaseURL:    twilioAPIBase,
		HTTP:       client,
		MaxElapsed: 30 * time.Second,
	}
}

// Configured reports whether credentials were provided.
func (c *TwilioClient) Configured() bool {
	return c != nil && c.AccountSID != "" && c.AuthToken != ""
}

// RecordingMediaURL appends .mp3 when the recording URL names no format.
func RecordingMediaURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if path.Ext(u.Path) == "" {
		u.Path += ".mp3"
	}
	return u.String()
}

// FetchRecording downloads recording audio with account credentials.
// Server errors are retried; 4xx responses are not.
func (c *TwilioClient) FetchRecording(ctx context.Context, recordingURL string) (io.ReadCloser, error) {
	if !c.Configured() {
		return nil, ErrTwilioNotConfigured
	}
	mediaURL := RecordingMediaURL(recordingURL)

	var body io.ReadCloser
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.SetBasicAuth(c.AccountSID, c.AuthToken)
		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 300 {
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			err := fmt.Errorf("twilio recording %s: status %d: %s", mediaURL, resp.StatusCode, strings.TrimSpace(string(b)))
			if resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		body = resp.Body
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.MaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

// OutboundCall is a request to ring a customer and bridge an agent.
type OutboundCall struct {
	To             string
	From           string
	TwiML          string
	StatusCallback string
}

type callResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// CreateCall starts an outbound call. It is not retried: a repeated
// request would ring the customer twice.
func (c *TwilioClient) CreateCall(ctx context.Context, oc OutboundCall) (string, error) {
	if !c.Configured() {
		return "", ErrTwilioNotConfigured
	}
	form := url.Values{}
	form.Set("To", oc.To)
	form.Set("From", oc.From)
	form.Set("Twiml", oc.TwiML)
	if oc.StatusCallback != "" {
		form.Set("StatusCallback", oc.StatusCallback)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/2010-04-01/Accounts/" + url.PathEscape(c.AccountSID) + "/Calls.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("twilio create call: %w", err)
	}
	defer resp.Body.Close()

	var out callResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("twilio create call: decode: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio create call: status %d: %s", resp.StatusCode, out.Message)
	}
	return out.SID, nil
}
