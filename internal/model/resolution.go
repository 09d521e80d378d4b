package model

import (
	"errors"
	"fmt"
)

// ResolutionLabel identifies one entry in the resolution catalog.
type ResolutionLabel string

const (
	Resolution144p ResolutionLabel = "144p"
	Resolution240p ResolutionLabel = "240p"
	Resolution360p ResolutionLabel = "360p"
	Resolution480p ResolutionLabel = "480p"
	Resolution720p ResolutionLabel = "720p"
)

// ValidResolutions lists every catalog entry in ascending quality order.
// This is also the order used for the "all resolutions" selection.
var ValidResolutions = []ResolutionLabel{
	Resolution144p, Resolution240p, Resolution360p,
	Resolution480p, Resolution720p,
}

// ErrUnknownResolution is returned when a label is not in the catalog.
var ErrUnknownResolution = errors.New("unknown resolution label")

// ResolutionProfile holds the fixed encode parameters for one target
// resolution. Profiles are immutable; callers receive copies.
type ResolutionProfile struct {
	Label     ResolutionLabel `json:"label"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	VideoKbps int             `json:"videoKbps"` // max video bitrate
	CRF       int             `json:"crf"`
	AudioKbps int             `json:"audioKbps"`
}

// Scale returns the ffmpeg scale filter dimensions, e.g. "854:480".
func (p ResolutionProfile) Scale() string {
	return fmt.Sprintf("%d:%d", p.Width, p.Height)
}

var catalog = map[ResolutionLabel]ResolutionProfile{
	Resolution144p: {Label: Resolution144p, Width: 256, Height: 144, VideoKbps: 200, CRF: 28, AudioKbps: 128},
	Resolution240p: {Label: Resolution240p, Width: 426, Height: 240, VideoKbps: 400, CRF: 26, AudioKbps: 128},
	Resolution360p: {Label: Resolution360p, Width: 640, Height: 360, VideoKbps: 800, CRF: 24, AudioKbps: 128},
	Resolution480p: {Label: Resolution480p, Width: 854, Height: 480, VideoKbps: 1500, CRF: 22, AudioKbps: 128},
	Resolution720p: {Label: Resolution720p, Width: 1280, Height: 720, VideoKbps: 2500, CRF: 20, AudioKbps: 128},
}

// LookupProfile resolves a label against the catalog. An unknown label is a
// caller error, never silently ignored.
func LookupProfile(label ResolutionLabel) (ResolutionProfile, error) {
	p, ok := catalog[label]
	if !ok {
		return ResolutionProfile{}, fmt.Errorf("%w: %q", ErrUnknownResolution, label)
	}
	return p, nil
}

// LookupProfiles resolves a slice of labels, preserving order. It fails on
// the first unknown label.
func LookupProfiles(labels []ResolutionLabel) ([]ResolutionProfile, error) {
	profiles := make([]ResolutionProfile, 0, len(labels))
	for _, label := range labels {
		p, err := LookupProfile(label)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}
