// Package voice defines the horror voice styles and their synthesis parameters.
//
// Each style maps to a provider voice id plus base parameters, adjusted by an
// intensity level from 1 (mild) to 5 (maximum dread). Profiles are static,
// immutable configuration resolved once at startup.
package voice

import (
	"errors"
	"fmt"

	"github.com/grimfeed/narration-service/internal/core"
)

// Style names a narration voice style.
type Style string

// Available horror voice styles.
const (
	GhostlyWhisper Style = "ghostly_whisper"
	DemonicGrowl   Style = "demonic_growl"
	EerieNarrator  Style = "eerie_narrator"
	PossessedChild Style = "possessed_child"
	AncientEntity  Style = "ancient_entity"
)

// Intensity bounds.
const (
	MinIntensity = 1
	MaxIntensity = 5
)

var (
	// ErrUnknownStyle indicates the requested voice style is not configured.
	ErrUnknownStyle = errors.New("unknown voice style")
	// ErrIntensityRange indicates the intensity level is outside 1..5.
	ErrIntensityRange = errors.New("intensity level must be between 1 and 5")
)

// modifier adjusts a profile's base parameters for one intensity level.
type modifier struct {
	Stability float64
	Speed     float64
	Style     float64
}

// Profile describes one voice style and its intensity mapping.
type Profile struct {
	ID              Style
	Name            string
	Description     string
	VoiceID         string
	BaseStability   float64
	BaseSimilarity  float64
	BaseStyle       float64
	BaseSpeed       float64
	intensityLevels map[int]modifier
}

// Registry resolves voice styles to synthesis parameters.
type Registry struct {
	profiles map[Style]Profile
}

// NewRegistry builds the registry with the built-in horror styles.
func NewRegistry() *Registry {
	profiles := make(map[Style]Profile, len(builtinProfiles))
	for _, p := range builtinProfiles {
		profiles[p.ID] = p
	}

	return &Registry{profiles: profiles}
}

// ParamsFor resolves the final synthesis parameters for a style at an
// intensity level. Higher intensity lowers stability and speed while
// raising style exaggeration; similarity boost is intensity-independent.
func (r *Registry) ParamsFor(style Style, intensity int) (core.VoiceParams, error) {
	profile, ok := r.profiles[style]
	if !ok {
		return core.VoiceParams{}, fmt.Errorf("%w: '%s'", ErrUnknownStyle, style)
	}

	if intensity < MinIntensity || intensity > MaxIntensity {
		return core.VoiceParams{}, fmt.Errorf("%w: got %d", ErrIntensityRange, intensity)
	}

	mod := profile.intensityLevels[intensity]

	return core.VoiceParams{
		VoiceID:         profile.VoiceID,
		Stability:       mod.Stability,
		SimilarityBoost: profile.BaseSimilarity,
		Style:           mod.Style,
		Speed:           mod.Speed,
	}, nil
}

// Known reports whether style is configured.
func (r *Registry) Known(style Style) bool {
	_, ok := r.profiles[style]

	return ok
}

// Styles returns all configured profiles for discovery endpoints.
func (r *Registry) Styles() []Profile {
	styles := make([]Profile, 0, len(r.profiles))
	for _, p := range builtinProfiles {
		if stored, ok := r.profiles[p.ID]; ok {
			styles = append(styles, stored)
		}
	}

	return styles
}

var builtinProfiles = []Profile{
	{
		ID:             GhostlyWhisper,
		Name:           "Ghostly Whisper",
		Description:    "A haunting, ethereal whisper that sends chills down your spine",
		VoiceID:        "21m00Tcm4TlvDq8ikWAM",
		BaseStability:  0.3,
		BaseSimilarity: 0.8,
		BaseStyle:      0.6,
		BaseSpeed:      0.9,
		intensityLevels: map[int]modifier{
			1: {Stability: 0.5, Speed: 1.0, Style: 0.3},
			2: {Stability: 0.4, Speed: 0.95, Style: 0.4},
			3: {Stability: 0.3, Speed: 0.9, Style: 0.6},
			4: {Stability: 0.2, Speed: 0.85, Style: 0.7},
			5: {Stability: 0.1, Speed: 0.8, Style: 0.9},
		},
	},
	{
		ID:             DemonicGrowl,
		Name:           "Demonic Growl",
		Description:    "A deep, menacing growl from the depths of darkness",
		VoiceID:        "EXAVITQu4vr4xnSDxMaL",
		BaseStability:  0.4,
		BaseSimilarity: 0.7,
		BaseStyle:      0.8,
		BaseSpeed:      0.85,
		intensityLevels: map[int]modifier{
			1: {Stability: 0.6, Speed: 0.95, Style: 0.5},
			2: {Stability: 0.5, Speed: 0.9, Style: 0.6},
			3: {Stability: 0.4, Speed: 0.85, Style: 0.8},
			4: {Stability: 0.3, Speed: 0.8, Style: 0.9},
			5: {Stability: 0.2, Speed: 0.75, Style: 1.0},
		},
	},
	{
		ID:             EerieNarrator,
		Name:           "Eerie Narrator",
		Description:    "A calm yet unsettling voice that tells tales of terror",
		VoiceID:        "pNInz6obpgDQGcFmaJgB",
		BaseStability:  0.6,
		BaseSimilarity: 0.75,
		BaseStyle:      0.5,
		BaseSpeed:      0.95,
		intensityLevels: map[int]modifier{
			1: {Stability: 0.7, Speed: 1.0, Style: 0.3},
			2: {Stability: 0.65, Speed: 0.98, Style: 0.4},
			3: {Stability: 0.6, Speed: 0.95, Style: 0.5},
			4: {Stability: 0.5, Speed: 0.9, Style: 0.6},
			5: {Stability: 0.4, Speed: 0.85, Style: 0.7},
		},
	},
	{
		ID:             PossessedChild,
		Name:           "Possessed Child",
		Description:    "An innocent voice twisted by malevolent forces",
		VoiceID:        "jBpfuIE2acCO8z3wKNLl",
		BaseStability:  0.2,
		BaseSimilarity: 0.85,
		BaseStyle:      0.7,
		BaseSpeed:      1.0,
		intensityLevels: map[int]modifier{
			1: {Stability: 0.4, Speed: 1.05, Style: 0.4},
			2: {Stability: 0.3, Speed: 1.02, Style: 0.5},
			3: {Stability: 0.2, Speed: 1.0, Style: 0.7},
			4: {Stability: 0.15, Speed: 0.95, Style: 0.8},
			5: {Stability: 0.1, Speed: 0.9, Style: 1.0},
		},
	},
	{
		ID:             AncientEntity,
		Name:           "Ancient Entity",
		Description:    "A timeless, otherworldly voice from beyond comprehension",
		VoiceID:        "onwK4e9ZLuTAKqWW03F9",
		BaseStability:  0.65,
		BaseSimilarity: 0.75,
		BaseStyle:      0.5,
		BaseSpeed:      0.9,
		intensityLevels: map[int]modifier{
			1: {Stability: 0.6, Speed: 0.9, Style: 0.6},
			2: {Stability: 0.55, Speed: 0.85, Style: 0.7},
			3: {Stability: 0.5, Speed: 0.8, Style: 0.9},
			4: {Stability: 0.4, Speed: 0.75, Style: 1.0},
			5: {Stability: 0.3, Speed: 0.7, Style: 1.0},
		},
	},
}
