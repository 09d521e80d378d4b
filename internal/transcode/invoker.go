// Package transcode runs the external ffmpeg engine, one isolated child
// process per (input, resolution) pair, under a hard wall-clock budget.
// Retries are a caller policy; none happen here.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/resobot/api/internal/model"
	"github.com/resobot/api/internal/tempstore"
)

// diagnosticLimit bounds how much of the engine's error stream is carried
// in an EngineError, keeping logs and memory bounded.
const diagnosticLimit = 200

var (
	// ErrTimeout is returned when the engine exceeds its wall-clock budget.
	// The child process has been killed and the output artifact released.
	ErrTimeout = errors.New("transcode timed out")

	// ErrNoOutput is returned when the engine exits zero but the output
	// file is missing or empty.
	ErrNoOutput = errors.New("engine produced no output")
)

// EngineError reports a non-zero engine exit, carrying a truncated
// diagnostic from its error stream.
type EngineError struct {
	Diagnostic string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine failed: %s", e.Diagnostic)
}

// Invoker converts local video files with ffmpeg.
type Invoker struct {
	store      *tempstore.Store
	ffmpegPath string
}

// NewInvoker returns an invoker that allocates outputs from store and runs
// the engine binary at ffmpegPath ("ffmpeg" resolves via PATH).
func NewInvoker(store *tempstore.Store, ffmpegPath string) *Invoker {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Invoker{store: store, ffmpegPath: ffmpegPath}
}

// Convert transcodes inputPath to the given profile, waiting at most limit.
// On success it returns the output artifact with ownership transferred to
// the caller. On any failure the output artifact has already been released.
func (inv *Invoker) Convert(ctx context.Context, inputPath string, profile model.ResolutionProfile, limit time.Duration) (*tempstore.Artifact, error) {
	out, err := inv.store.Allocate(fmt.Sprintf("_%s.mp4", profile.Label))
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(cctx, inv.ffmpegPath, buildArgs(inputPath, profile, out.Path)...)
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if cctx.Err() == context.DeadlineExceeded {
		inv.store.Release(out)
		return nil, ErrTimeout
	}
	if runErr != nil {
		inv.store.Release(out)
		return nil, &EngineError{Diagnostic: truncate(stderr.String(), diagnosticLimit)}
	}

	info, statErr := os.Stat(out.Path)
	if statErr != nil || info.Size() == 0 {
		inv.store.Release(out)
		return nil, ErrNoOutput
	}
	return out, nil
}

// buildArgs derives the engine arguments deterministically from the
// profile: lanczos scale, libx264 with a bitrate cap and a buffer of twice
// the cap, fixed stereo AAC audio, faststart for web playback.
func buildArgs(inputPath string, p model.ResolutionProfile, outputPath string) []string {
	return []string{
		"-nostdin", "-y",
		"-i", inputPath,
		"-vf", fmt.Sprintf("scale=%s:flags=lanczos", p.Scale()),
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", fmt.Sprintf("%d", p.CRF),
		"-maxrate", fmt.Sprintf("%dk", p.VideoKbps),
		"-bufsize", fmt.Sprintf("%dk", p.VideoKbps*2),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", p.AudioKbps),
		"-ac", "2",
		"-movflags", "+faststart",
		outputPath,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
