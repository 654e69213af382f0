// Package synthesis_test tests the speech provider client.
package synthesis_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimfeed/narration-service/internal/core"
	"github.com/grimfeed/narration-service/internal/synthesis"
)

const testRequestsPerMinute = 6000

func testParams() core.VoiceParams {
	return core.VoiceParams{
		VoiceID:         "21m00Tcm4TlvDq8ikWAM",
		Stability:       0.3,
		SimilarityBoost: 0.8,
		Style:           0.6,
		Speed:           0.9,
	}
}

func newTestClient(baseURL string) *synthesis.Client {
	return synthesis.NewClient(baseURL, "test-key", "", 5*time.Second, testRequestsPerMinute)
}

func TestSynthesizeSuccess(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string

	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")

		err := json.NewDecoder(r.Body).Decode(&gotBody)
		require.NoError(t, err)

		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3 audio"))
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	audio, err := client.Synthesize(context.Background(), "the house breathed", testParams())
	require.NoError(t, err)

	assert.Equal(t, []byte("mp3 audio"), audio)
	assert.Equal(t, "/v1/text-to-speech/21m00Tcm4TlvDq8ikWAM", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "the house breathed", gotBody["text"])
	assert.Equal(t, "eleven_turbo_v2_5", gotBody["model_id"])
}

func TestZeroRateFallsBackToDefault(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("mp3 audio"))
	}))
	defer server.Close()

	// An unset rate must not leave the limiter at zero, where every call
	// would block until its context expires.
	client := synthesis.NewClient(server.URL, "test-key", "", 5*time.Second, 0)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	audio, err := client.Synthesize(ctx, "the mirror was late", testParams())
	require.NoError(t, err)
	assert.Equal(t, []byte("mp3 audio"), audio)
}

func TestSynthesizeEmptyTextIsPermanent(t *testing.T) {
	t.Parallel()

	client := newTestClient("http://127.0.0.1:0")

	_, err := client.Synthesize(context.Background(), "", testParams())
	require.Error(t, err)
	assert.Equal(t, core.ErrorClassPermanent, core.ClassOf(err))
	require.ErrorIs(t, err, synthesis.ErrTextEmpty)
}

func TestSynthesizeRateLimitIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Synthesize(context.Background(), "text", testParams())
	require.Error(t, err)
	assert.Equal(t, core.ErrorClassTransient, core.ClassOf(err))
}

func TestSynthesizeServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Synthesize(context.Background(), "text", testParams())
	require.Error(t, err)
	assert.Equal(t, core.ErrorClassTransient, core.ClassOf(err))
}

func TestSynthesizeRejectionIsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"invalid voice settings"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Synthesize(context.Background(), "text", testParams())
	require.Error(t, err)
	assert.Equal(t, core.ErrorClassPermanent, core.ClassOf(err))
	assert.Contains(t, err.Error(), "invalid voice settings")
}

func TestSynthesizeEmptyAudioIsTransient(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Synthesize(context.Background(), "text", testParams())
	require.Error(t, err)
	assert.Equal(t, core.ErrorClassTransient, core.ClassOf(err))
	require.ErrorIs(t, err, synthesis.ErrEmptyAudio)
}

func TestSynthesizeNetworkFailureIsTransient(t *testing.T) {
	t.Parallel()

	// A server that is immediately closed guarantees a connection error.
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {}))
	server.Close()

	_, err := newTestClient(server.URL).Synthesize(context.Background(), "text", testParams())
	require.Error(t, err)
	assert.Equal(t, core.ErrorClassTransient, core.ClassOf(err))
}
