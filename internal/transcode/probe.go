package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
)

// ProbeResult carries the source attributes shown to the user alongside
// conversion results.
type ProbeResult struct {
	Duration float64
	Width    int
	Height   int
}

// Prober inspects media files with ffprobe.
type Prober struct {
	ffprobePath string
}

// NewProber returns a prober running the binary at ffprobePath ("ffprobe"
// resolves via PATH).
func NewProber(ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath}
}

// Probe reads the duration and frame size of the first video stream.
func (p *Prober) Probe(ctx context.Context, path string) (ProbeResult, error) {
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "format=duration:stream=width,height",
		"-of", "json", path)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe: %w", err)
	}

	var payload struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out.Bytes(), &payload); err != nil {
		return ProbeResult{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(payload.Streams) == 0 {
		return ProbeResult{}, errors.New("no video stream")
	}

	dur, _ := strconv.ParseFloat(payload.Format.Duration, 64)
	return ProbeResult{
		Duration: dur,
		Width:    payload.Streams[0].Width,
		Height:   payload.Streams[0].Height,
	}, nil
}
