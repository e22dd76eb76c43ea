package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const openaiAPIURL = "https://api.openai.com/v1/audio/transcriptions"

type OpenAI struct {
	baseTranscriber
	apiKey string
}

func NewOpenAI(apiKey, apiURL string) *OpenAI {
	if apiURL == "" {
		apiURL = openaiAPIURL
	}
	return &OpenAI{
		baseTranscriber: baseTranscriber{
			client: NewTracedClient(apiURL),
			apiURL: apiURL,
		},
		apiKey: apiKey,
	}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Warm() { o.client.Warm() }

func (o *OpenAI) Transcribe(ctx context.Context, audioData []byte, mediaType string) (*Result, error) {
	body, contentType, err := uploadForm(audioData, mediaType, map[string]string{
		"model":           "gpt-4o-transcribe",
		"response_format": "json",
		"language":        o.lang,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.apiURL, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Provider: "openai", StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	var oResp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(resp.Body, &oResp); err != nil {
		return nil, fmt.Errorf("openai response parse error: %w", err)
	}

	remaining := firstNonEmpty(resp.Header, "x-ratelimit-remaining-requests")
	limit := firstNonEmpty(resp.Header, "x-ratelimit-limit-requests")

	return &Result{
		Text:      oResp.Text,
		Metrics:   resp.Metrics,
		RateLimit: remaining + "/" + limit,
	}, nil
}
