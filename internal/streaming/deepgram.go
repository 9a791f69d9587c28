package streaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	deepgramModel    = "nova-2"
	deepgramLanguage = "en-US"

	audioQueue = 256
	closeGrace = 5 * time.Second
)

// Deepgram is a live Provider over the Deepgram listen socket.
type Deepgram struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

func NewDeepgram(apiKey, model, language string) (*Deepgram, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: api key must not be empty")
	}
	if model == "" {
		model = deepgramModel
	}
	if language == "" {
		language = deepgramLanguage
	}
	return &Deepgram{apiKey: apiKey, model: model, language: language, endpoint: deepgramEndpoint}, nil
}

func (d *Deepgram) StartStream(ctx context.Context, cfg StreamConfig) (StreamHandle, error) {
	wsURL, err := d.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build url: %w", err)
	}
	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The stream outlives the dial context; Close ends it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &deepgramStream{
		conn:   conn,
		audio:  make(chan []byte, audioQueue),
		finals: make(chan Final, 64),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	s.wg.Add(2)
	go s.writeLoop(runCtx)
	go s.readLoop(runCtx)
	return s, nil
}

func (d *Deepgram) buildURL(cfg StreamConfig) (string, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return "", err
	}
	lang := cfg.Language
	if lang == "" {
		lang = d.language
	}
	enc := cfg.Encoding
	if enc == "" {
		enc = "mulaw"
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = 8000
	}

	q := u.Query()
	q.Set("model", d.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("diarize", "true")
	q.Set("interim_results", "true")
	q.Set("utterance_end_ms", "1000")
	q.Set("encoding", enc)
	q.Set("sample_rate", strconv.Itoa(sr))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type deepgramResponse struct {
	Type     string  `json:"type"`
	IsFinal  bool    `json:"is_final"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Channel  struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
			Words      []struct {
				Word    string  `json:"word"`
				Start   float64 `json:"start"`
				End     float64 `json:"end"`
				Speaker *int    `json:"speaker"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// parseDeepgramResponse returns the final result carried by data. Interim
// results, empty transcripts and other message types are skipped.
func parseDeepgramResponse(data []byte) (Final, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Final{}, false
	}
	if resp.Type != "Results" || !resp.IsFinal || len(resp.Channel.Alternatives) == 0 {
		return Final{}, false
	}
	alt := resp.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return Final{}, false
	}
	speaker := "Unknown"
	if len(alt.Words) > 0 && alt.Words[0].Speaker != nil {
		speaker = "Speaker " + strconv.Itoa(*alt.Words[0].Speaker)
	}
	return Final{
		Speaker: speaker,
		Text:    alt.Transcript,
		Start:   seconds(resp.Start),
		End:     seconds(resp.Start + resp.Duration),
	}, true
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

type deepgramStream struct {
	conn   *websocket.Conn
	audio  chan []byte
	finals chan Final
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func (s *deepgramStream) SendAudio(frame []byte) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	select {
	case s.audio <- frame:
		return nil
	default:
		return ErrFrameDropped
	}
}

func (s *deepgramStream) Finals() <-chan Final { return s.finals }

// Close flushes queued audio, asks Deepgram to finish and waits up to
// closeGrace for the remaining results.
func (s *deepgramStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		flushed := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(flushed)
		}()
		select {
		case <-flushed:
		case <-time.After(closeGrace):
			s.cancel()
			<-flushed
		}
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "stream closed")
	})
	return nil
}

func (s *deepgramStream) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case frame := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
				return
			}
		case <-s.done:
			for {
				select {
				case frame := <-s.audio:
					_ = s.conn.Write(ctx, websocket.MessageBinary, frame)
				default:
					_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
					return
				}
			}
		}
	}
}

// readLoop ends when Deepgram closes the socket after CloseStream, or when
// the connection fails.
func (s *deepgramStream) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.finals)
	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			return
		}
		if f, ok := parseDeepgramResponse(msg); ok {
			select {
			case s.finals <- f:
			case <-ctx.Done():
				return
			}
		}
	}
}
