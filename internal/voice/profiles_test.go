// Package voice_test tests the voice profile registry.
package voice_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grimfeed/narration-service/internal/voice"
)

func TestParamsForAllStylesAndIntensities(t *testing.T) {
	t.Parallel()

	registry := voice.NewRegistry()

	for _, profile := range registry.Styles() {
		for intensity := voice.MinIntensity; intensity <= voice.MaxIntensity; intensity++ {
			params, err := registry.ParamsFor(profile.ID, intensity)
			require.NoError(t, err, "style %s intensity %d", profile.ID, intensity)

			assert.Equal(t, profile.VoiceID, params.VoiceID)
			assert.Equal(t, profile.BaseSimilarity, params.SimilarityBoost)
			assert.Positive(t, params.Stability)
			assert.Positive(t, params.Speed)
		}
	}
}

func TestParamsForIntensityShapesDelivery(t *testing.T) {
	t.Parallel()

	registry := voice.NewRegistry()

	mild, err := registry.ParamsFor(voice.GhostlyWhisper, 1)
	require.NoError(t, err)

	maximum, err := registry.ParamsFor(voice.GhostlyWhisper, 5)
	require.NoError(t, err)

	// Higher intensity destabilizes and slows the voice while pushing style.
	assert.Greater(t, mild.Stability, maximum.Stability)
	assert.Greater(t, mild.Speed, maximum.Speed)
	assert.Less(t, mild.Style, maximum.Style)
}

func TestParamsForUnknownStyle(t *testing.T) {
	t.Parallel()

	registry := voice.NewRegistry()

	_, err := registry.ParamsFor(voice.Style("cheerful_host"), 3)
	require.ErrorIs(t, err, voice.ErrUnknownStyle)
}

func TestParamsForIntensityOutOfRange(t *testing.T) {
	t.Parallel()

	registry := voice.NewRegistry()

	_, err := registry.ParamsFor(voice.DemonicGrowl, 0)
	require.ErrorIs(t, err, voice.ErrIntensityRange)

	_, err = registry.ParamsFor(voice.DemonicGrowl, 6)
	require.ErrorIs(t, err, voice.ErrIntensityRange)
}

func TestStylesListsAllBuiltins(t *testing.T) {
	t.Parallel()

	registry := voice.NewRegistry()
	styles := registry.Styles()

	require.Len(t, styles, 5)

	ids := make([]voice.Style, 0, len(styles))
	for _, profile := range styles {
		ids = append(ids, profile.ID)
	}

	assert.Contains(t, ids, voice.GhostlyWhisper)
	assert.Contains(t, ids, voice.DemonicGrowl)
	assert.Contains(t, ids, voice.EerieNarrator)
	assert.Contains(t, ids, voice.PossessedChild)
	assert.Contains(t, ids, voice.AncientEntity)
}

func TestKnown(t *testing.T) {
	t.Parallel()

	registry := voice.NewRegistry()

	assert.True(t, registry.Known(voice.AncientEntity))
	assert.False(t, registry.Known(voice.Style("smooth_jazz")))
}
