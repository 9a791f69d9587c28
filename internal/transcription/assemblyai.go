package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"call-lead-pipeline/internal/calls"

	"github.com/cenkalti/backoff/v4"
)

const defaultAssemblyAIBaseURL = "https://api.assemblyai.com"

// AssemblyAI is a Provider backed by the AssemblyAI v2 REST API.
type AssemblyAI struct {
	apiKey  string
	baseURL string
	http    *http.Client

	// MaxElapsed bounds retries of job creation and status reads.
	MaxElapsed time.Duration
}

func NewAssemblyAI(apiKey, baseURL string, client *http.Client) *AssemblyAI {
	if baseURL == "" {
		baseURL = defaultAssemblyAIBaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &AssemblyAI{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		http:       client,
		MaxElapsed: 12 * time.Second,
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type createRequest struct {
	AudioURL          string `json:"audio_url"`
	SpeakerLabels     bool   `json:"speaker_labels"`
	EntityDetection   bool   `json:"entity_detection"`
	SentimentAnalysis bool   `json:"sentiment_analysis"`
	AutoHighlights    bool   `json:"auto_highlights"`
	LanguageDetection bool   `json:"language_detection"`
}

type transcriptResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Text       string `json:"text"`
	Error      string `json:"error"`
	Utterances []struct {
		Speaker string `json:"speaker"`
		Text    string `json:"text"`
		Start   int64  `json:"start"`
		End     int64  `json:"end"`
	} `json:"utterances"`
}

// Upload streams audio to the provider. It is attempted once; the reader
// cannot be replayed.
func (a *AssemblyAI) Upload(ctx context.Context, audio io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v2/upload", audio)
	if err != nil {
		return "", err
	}
	req.Header.Set("authorization", a.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("assemblyai: upload: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("assemblyai: upload status %d: %s", resp.StatusCode, truncate(body))
	}
	var out uploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("assemblyai: upload decode: %w", err)
	}
	if out.UploadURL == "" {
		return "", errors.New("assemblyai: upload returned no url")
	}
	return out.UploadURL, nil
}

func (a *AssemblyAI) CreateJob(ctx context.Context, audioURL string, cfg JobConfig) (string, error) {
	payload, err := json.Marshal(createRequest{
		AudioURL:          audioURL,
		SpeakerLabels:     cfg.SpeakerLabels,
		EntityDetection:   cfg.EntityDetection,
		SentimentAnalysis: cfg.SentimentAnalysis,
		AutoHighlights:    cfg.AutoHighlights,
		LanguageDetection: cfg.LanguageDetection,
	})
	if err != nil {
		return "", err
	}
	var out transcriptResponse
	if err := a.doJSON(ctx, http.MethodPost, "/v2/transcript", payload, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", errors.New("assemblyai: create returned no id")
	}
	return out.ID, nil
}

func (a *AssemblyAI) GetJob(ctx context.Context, providerJobID string) (JobStatus, error) {
	var out transcriptResponse
	if err := a.doJSON(ctx, http.MethodGet, "/v2/transcript/"+providerJobID, nil, &out); err != nil {
		return JobStatus{}, err
	}
	st := JobStatus{Status: out.Status, Text: out.Text, Error: out.Error}
	for _, u := range out.Utterances {
		st.Turns = append(st.Turns, calls.Turn{Speaker: "Speaker " + u.Speaker, Text: u.Text})
	}
	return st, nil
}

// doJSON retries transport errors and 5xx responses with exponential
// backoff. 4xx responses are permanent.
func (a *AssemblyAI) doJSON(ctx context.Context, method, path string, payload []byte, target any) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = a.MaxElapsed

	op := func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("authorization", a.apiKey)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := a.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("assemblyai: server error %d: %s", resp.StatusCode, truncate(b))
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("assemblyai: status %d: %s", resp.StatusCode, truncate(b)))
		}
		if err := json.Unmarshal(b, target); err != nil {
			return backoff.Permanent(fmt.Errorf("assemblyai: decode: %w", err))
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
