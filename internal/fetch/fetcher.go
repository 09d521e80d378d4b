// Package fetch materializes a remote video as a local artifact. Two
// retrieval strategies exist: standard (the lightweight transport, capped
// at a configured size) and large (a direct-access transport that is only
// available when configured at startup).
package fetch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/resobot/api/internal/model"
	"github.com/resobot/api/internal/tempstore"
)

var (
	// ErrTransportUnavailable means the declared size exceeds the standard
	// transport's hard cap and the source was not flagged for the large path.
	ErrTransportUnavailable = errors.New("file exceeds the standard transport limit")

	// ErrLargePathUnavailable means the source requires the direct-access
	// transport but it was not configured at process start.
	ErrLargePathUnavailable = errors.New("large-file transport is not configured")

	// ErrDownload wraps I/O faults from either transport.
	ErrDownload = errors.New("download failed")
)

// Downloader retrieves a remote file into dst. Implemented by the
// transport clients.
type Downloader interface {
	Download(ctx context.Context, fileID, dst string) error
}

// Fetcher selects a retrieval strategy per source descriptor and owns the
// artifact it allocates until the download succeeds.
type Fetcher struct {
	store       *tempstore.Store
	standard    Downloader
	large       Downloader // nil when not configured
	standardMax int64      // bytes; property of the external transport
}

// New builds a fetcher. large may be nil, which disables the large
// strategy. standardMax is the standard transport's hard byte cap.
func New(store *tempstore.Store, standard, large Downloader, standardMax int64) *Fetcher {
	return &Fetcher{store: store, standard: standard, large: large, standardMax: standardMax}
}

// LargeAvailable reports whether the direct-access transport is configured.
func (f *Fetcher) LargeAvailable() bool {
	return f.large != nil
}

// StandardMax returns the standard transport's byte cap.
func (f *Fetcher) StandardMax() int64 {
	return f.standardMax
}

// Fetch downloads the source into a new artifact and transfers ownership
// to the caller. Capability checks happen before any disk allocation, so a
// rejected fetch never creates temp state. On a download fault the
// partially written artifact is released before the error surfaces.
func (f *Fetcher) Fetch(ctx context.Context, src model.SourceDescriptor) (*tempstore.Artifact, error) {
	var dl Downloader
	switch {
	case src.Large:
		if f.large == nil {
			return nil, ErrLargePathUnavailable
		}
		dl = f.large
	case src.Size > f.standardMax:
		return nil, ErrTransportUnavailable
	default:
		dl = f.standard
	}

	art, err := f.store.Allocate(suffixFor(src.FileName))
	if err != nil {
		return nil, err
	}
	if err := dl.Download(ctx, src.FileID, art.Path); err != nil {
		f.store.Release(art)
		return nil, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	return art, nil
}

func suffixFor(fileName string) string {
	if ext := filepath.Ext(fileName); ext != "" {
		return ext
	}
	return ".mp4"
}
