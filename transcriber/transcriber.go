package transcriber

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

type Segment struct {
	Text             string
	NoSpeechProb     float64
	AvgLogProb       float64
	CompressionRatio float64
	Temperature      float64
	Start            float64
	End              float64
}

type Result struct {
	Text         string
	Metrics      *NetworkMetrics
	RateLimit    string
	Confidence   float64
	NoSpeechProb float64
	AvgLogProb   float64
	Duration     float64
	Segments     []Segment
}

// APIError is a non-200 response from a transcription service.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Transcriber turns a self-contained audio file into text. Implementations
// must be safe for concurrent calls.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, audio []byte, mediaType string) (*Result, error)
}

type baseTranscriber struct {
	client *TracedClient
	apiURL string
	lang   string
}

func (b *baseTranscriber) SetLanguage(lang string) { b.lang = lang }

func (b *baseTranscriber) GetLanguage() string { return b.lang }

// Options selects and configures a transcription backend.
type Options struct {
	Provider    string // groq, openai, deepgram, fake; empty picks the first configured key
	Language    string
	GroqKey     string
	OpenAIKey   string
	DeepgramKey string
	URL         string // overrides the provider endpoint
}

var Providers = []string{"groq", "openai", "deepgram", "fake"}

func New(opts Options) (Transcriber, error) {
	provider := opts.Provider
	if provider == "" {
		switch {
		case opts.GroqKey != "":
			provider = "groq"
		case opts.OpenAIKey != "":
			provider = "openai"
		case opts.DeepgramKey != "":
			provider = "deepgram"
		default:
			return nil, fmt.Errorf("set GROQ_API_KEY, OPENAI_API_KEY or DEEPGRAM_API_KEY environment variable")
		}
	}

	switch provider {
	case "groq":
		if opts.GroqKey == "" {
			return nil, fmt.Errorf("groq: GROQ_API_KEY is not set")
		}
		g := NewGroq(opts.GroqKey, opts.URL)
		g.SetLanguage(opts.Language)
		return g, nil
	case "openai":
		if opts.OpenAIKey == "" {
			return nil, fmt.Errorf("openai: OPENAI_API_KEY is not set")
		}
		o := NewOpenAI(opts.OpenAIKey, opts.URL)
		o.SetLanguage(opts.Language)
		return o, nil
	case "deepgram":
		if opts.DeepgramKey == "" {
			return nil, fmt.Errorf("deepgram: DEEPGRAM_API_KEY is not set")
		}
		d := NewDeepgram(opts.DeepgramKey, opts.URL)
		d.SetLanguage(opts.Language)
		return d, nil
	case "fake":
		return NewFake("", nil), nil
	}
	return nil, fmt.Errorf("unknown transcription provider %q", provider)
}

// fileExt maps a media type to the file extension services use to sniff
// the container.
func fileExt(mediaType string) string {
	mt, _, _ := strings.Cut(mediaType, ";")
	switch strings.TrimSpace(mt) {
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/ogg":
		return "ogg"
	case "audio/webm", "video/webm":
		return "webm"
	}
	return "bin"
}
