// Package synthesis provides the HTTP client for the external speech provider.
//
// The client performs exactly one provider call per Synthesize invocation and
// classifies failures into transient and permanent so the scheduler can
// decide whether a retry is worthwhile. Retry and backoff policy live in the
// scheduler; this package is retry-unaware by design.
package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/grimfeed/narration-service/internal/core"
)

// API paths and headers.
const (
	apiTextToSpeech = "/v1/text-to-speech/%s"

	headerAPIKey      = "xi-api-key"
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeMPEG   = "audio/mpeg"
)

// Defaults.
const (
	defaultModelID           = "eleven_turbo_v2_5"
	defaultRequestsPerMinute = 60
	secondsPerMinute         = 60
	maxErrorBodyBytes        = 4096
	rateLimiterBurstSize     = 1
)

// Static errors.
var (
	ErrTextEmpty  = errors.New("text cannot be empty")
	ErrEmptyAudio = errors.New("provider returned empty audio data")
)

// voiceSettings is the provider's per-request voice tuning payload.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Speed           float64 `json:"speed,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// speechRequest is the JSON payload for a text-to-speech call.
type speechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Client calls the external speech-synthesis provider over HTTP.
// A client-side rate limiter spaces requests so burst traffic does not trip
// the provider's rate limits before the scheduler can react.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	apiKey     string
	modelID    string
}

// NewClient creates a provider client. The timeout applies to every HTTP
// request; requestsPerMinute throttles outbound calls client-side.
func NewClient(baseURL, apiKey, modelID string, timeout time.Duration, requestsPerMinute int) *Client {
	if modelID == "" {
		modelID = defaultModelID
	}

	// A non-positive rate would make every Wait block until the attempt
	// context expires; floor it to the documented default instead.
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultRequestsPerMinute
	}

	perSecond := rate.Limit(float64(requestsPerMinute) / secondsPerMinute)

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(perSecond, rateLimiterBurstSize),
		baseURL:    baseURL,
		apiKey:     apiKey,
		modelID:    modelID,
	}
}

// Synthesize converts text to audio using the given voice parameters and
// returns the raw audio bytes. Failures are returned as *core.SynthesisError
// with a transient or permanent classification.
func (c *Client) Synthesize(ctx context.Context, text string, params core.VoiceParams) ([]byte, error) {
	if text == "" {
		return nil, core.NewPermanentError("empty input", ErrTextEmpty)
	}

	waitErr := c.limiter.Wait(ctx)
	if waitErr != nil {
		return nil, core.NewTransientError("rate limiter wait interrupted", waitErr)
	}

	request, err := c.buildRequest(ctx, text, params)
	if err != nil {
		return nil, err
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		// Timeouts, connection resets and DNS failures are all worth a retry.
		return nil, core.NewTransientError("provider request failed", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return nil, classifyStatus(response)
	}

	audioData, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, core.NewTransientError("failed to read provider response", err)
	}

	if len(audioData) == 0 {
		return nil, core.NewTransientError("empty response body", ErrEmptyAudio)
	}

	return audioData, nil
}

func (c *Client) buildRequest(ctx context.Context, text string, params core.VoiceParams) (*http.Request, error) {
	payload := speechRequest{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: voiceSettings{
			Stability:       params.Stability,
			SimilarityBoost: params.SimilarityBoost,
			Style:           params.Style,
			Speed:           params.Speed,
			UseSpeakerBoost: true,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, core.NewPermanentError("failed to encode request", err)
	}

	url := c.baseURL + fmt.Sprintf(apiTextToSpeech, params.VoiceID)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewPermanentError("failed to build request", err)
	}

	request.Header.Set(headerAPIKey, c.apiKey)
	request.Header.Set(headerContentType, contentTypeJSON)
	request.Header.Set(headerAccept, contentTypeMPEG)

	return request, nil
}

// classifyStatus maps a non-OK provider response to a SynthesisError.
// Rate limiting and server-side failures are transient; everything the
// provider rejects about the request itself is permanent.
func classifyStatus(response *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	reason := fmt.Sprintf("provider returned %s: %s", response.Status, bytes.TrimSpace(body))

	switch {
	case response.StatusCode == http.StatusTooManyRequests:
		return core.NewTransientError(reason, nil)
	case response.StatusCode >= http.StatusInternalServerError:
		return core.NewTransientError(reason, nil)
	default:
		// 400, 401, 403, 404, 422: invalid input, bad credentials,
		// unsupported parameters or exhausted quota.
		return core.NewPermanentError(reason, nil)
	}
}
