package styles

import "encoding/json"

// Package ids. The package id doubles as the generation type shown to
// clients.
const (
	PackageHeadshot = "headshot"
	PackageAvatar   = "avatar"
)

// ---------------------------------------------------------------------------
// Headshot package
// ---------------------------------------------------------------------------

// HeadshotSettings configures professional headshot generation.
type HeadshotSettings struct {
	Background  string `json:"background"`
	Attire      string `json:"attire"`
	Lighting    string `json:"lighting"`
	Framing     string `json:"framing"`
	Expression  string `json:"expression"`
	SkinRetouch string `json:"skin_retouch"`
}

func (HeadshotSettings) PackageID() string { return PackageHeadshot }

type HeadshotAdapter struct{}

func (HeadshotAdapter) PackageID() string { return PackageHeadshot }

func (HeadshotAdapter) Defaults() Settings {
	return HeadshotSettings{
		Background:  "studio-gray",
		Attire:      "business-casual",
		Lighting:    "soft-key",
		Framing:     "shoulders-up",
		Expression:  "confident",
		SkinRetouch: "natural",
	}
}

func (a HeadshotAdapter) Resolve(raw json.RawMessage) Settings {
	defaults := a.Defaults().(HeadshotSettings)
	// Decode through pointer fields so absent keys are distinguishable from
	// empty strings; both degrade to the default value.
	var stored struct {
		Background  *string `json:"background"`
		Attire      *string `json:"attire"`
		Lighting    *string `json:"lighting"`
		Framing     *string `json:"framing"`
		Expression  *string `json:"expression"`
		SkinRetouch *string `json:"skin_retouch"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &stored) != nil {
		return defaults
	}
	out := defaults
	if v := stored.Background; v != nil && *v != "" {
		out.Background = *v
	}
	if v := stored.Attire; v != nil && *v != "" {
		out.Attire = *v
	}
	if v := stored.Lighting; v != nil && *v != "" {
		out.Lighting = *v
	}
	if v := stored.Framing; v != nil && *v != "" {
		out.Framing = *v
	}
	if v := stored.Expression; v != nil && *v != "" {
		out.Expression = *v
	}
	if v := stored.SkinRetouch; v != nil && *v != "" {
		out.SkinRetouch = *v
	}
	return out
}

func (HeadshotAdapter) Serialize(s Settings) (json.RawMessage, error) {
	return json.Marshal(s)
}

// ---------------------------------------------------------------------------
// Avatar package
// ---------------------------------------------------------------------------

// AvatarSettings configures stylized avatar generation.
type AvatarSettings struct {
	ArtStyle   string `json:"art_style"`
	Palette    string `json:"palette"`
	Mood       string `json:"mood"`
	Detail     string `json:"detail"`
	Variations int    `json:"variations"`
}

func (AvatarSettings) PackageID() string { return PackageAvatar }

type AvatarAdapter struct{}

func (AvatarAdapter) PackageID() string { return PackageAvatar }

func (AvatarAdapter) Defaults() Settings {
	return AvatarSettings{
		ArtStyle:   "digital-painting",
		Palette:    "vibrant",
		Mood:       "friendly",
		Detail:     "high",
		Variations: 4,
	}
}

func (a AvatarAdapter) Resolve(raw json.RawMessage) Settings {
	defaults := a.Defaults().(AvatarSettings)
	var stored struct {
		ArtStyle   *string `json:"art_style"`
		Palette    *string `json:"palette"`
		Mood       *string `json:"mood"`
		Detail     *string `json:"detail"`
		Variations *int    `json:"variations"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &stored) != nil {
		return defaults
	}
	out := defaults
	if v := stored.ArtStyle; v != nil && *v != "" {
		out.ArtStyle = *v
	}
	if v := stored.Palette; v != nil && *v != "" {
		out.Palette = *v
	}
	if v := stored.Mood; v != nil && *v != "" {
		out.Mood = *v
	}
	if v := stored.Detail; v != nil && *v != "" {
		out.Detail = *v
	}
	if v := stored.Variations; v != nil && *v > 0 {
		out.Variations = *v
	}
	return out
}

func (AvatarAdapter) Serialize(s Settings) (json.RawMessage, error) {
	return json.Marshal(s)
}
