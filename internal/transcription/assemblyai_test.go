package transcription

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestAssemblyAI_UploadCreatePoll(t *testing.T) {
	var created createRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("authorization") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/upload":
			b, _ := io.ReadAll(r.Body)
			if string(b) != "audio" {
				t.Errorf("unexpected upload body %q", b)
			}
			_, _ = w.Write([]byte(`{"upload_url":"https://cdn/1"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v2/transcript":
			_ = json.NewDecoder(r.Body).Decode(&created)
			_, _ = w.Write([]byte(`{"id":"tr_9","status":"queued"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v2/transcript/tr_9":
			_, _ = w.Write([]byte(`{"id":"tr_9","status":"completed","text":"hi there","utterances":[{"speaker":"A","text":"hi there","start":0,"end":900}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	a := NewAssemblyAI("key", srv.URL, srv.Client())
	ctx := context.Background()

	u, err := a.Upload(ctx, strings.NewReader("audio"))
	if err != nil || u != "https://cdn/1" {
		t.Fatalf("upload: %q %v", u, err)
	}
	id, err := a.CreateJob(ctx, u, DefaultJobConfig())
	if err != nil || id != "tr_9" {
		t.Fatalf("create: %q %v", id, err)
	}
	if created.AudioURL != u || !created.SpeakerLabels || !created.EntityDetection || !created.SentimentAnalysis {
		t.Fatalf("unexpected create payload: %+v", created)
	}
	st, err := a.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Status != StatusCompleted || st.Text != "hi there" || len(st.Turns) != 1 || st.Turns[0].Speaker != "Speaker A" {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestAssemblyAI_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"tr_1","status":"processing"}`))
	}))
	defer srv.Close()

	a := NewAssemblyAI("key", srv.URL, srv.Client())
	a.MaxElapsed = 5 * time.Second
	st, err := a.GetJob(context.Background(), "tr_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Status != StatusProcessing || atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("unexpected status %+v after %d hits", st, hits)
	}
}

func TestAssemblyAI_ClientErrorsArePermanent(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	a := NewAssemblyAI("key", srv.URL, srv.Client())
	if _, err := a.CreateJob(context.Background(), "https://cdn/1", DefaultJobConfig()); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("expected a single attempt, got %d", hits)
	}
}
