/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package room

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var ErrMicDenied = errors.New("microphone permission denied")

// Clip is one encoded audio payload, either recorded locally or received
// for playback.
type Clip struct {
	Data []byte `json:"-"`
	Mime string `json:"mime"`
	Turn string `json:"turn,omitempty"`
	Size int    `json:"size"`
}

// Recorder holds the microphone for exactly one window and releases it
// before returning. Permission problems should wrap ErrMicDenied.
type Recorder interface {
	Record(ctx context.Context, window time.Duration) (Clip, error)
}

type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// sniffMime fills in a missing mime type from the audio bytes.
func sniffMime(clip Clip) Clip {
	if clip.Mime == "" && len(clip.Data) > 0 {
		clip.Mime = mimetype.Detect(clip.Data).String()
	}
	clip.Size = len(clip.Data)
	return clip
}

// FileRecorder stands in for a microphone by replaying a prepared audio
// file once the recording window has elapsed.
type FileRecorder struct {
	Path string
}

func (f FileRecorder) Record(ctx context.Context, window time.Duration) (Clip, error) {
	if f.Path == "" {
		return Clip{}, ErrMicDenied
	}

	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) || errors.Is(err, os.ErrNotExist) {
			return Clip{}, fmt.Errorf("%w: %v", ErrMicDenied, err)
		}
		return Clip{}, err
	}

	t := time.NewTimer(window)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return Clip{}, ctx.Err()
	case <-t.C:
	}

	return sniffMime(Clip{Data: data}), nil
}

// DirPlayer writes every clip it is asked to play into Dir, one file per
// clip.
type DirPlayer struct {
	Dir string
}

func (d DirPlayer) Play(ctx context.Context, clip Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ext := mimetype.Lookup(clip.Mime)
	suffix := ".bin"
	if ext != nil {
		suffix = ext.Extension()
	}

	name := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if clip.Turn != "" {
		name += "-" + clip.Turn
	}
	name += "-" + uuid.NewString()[:8]

	return os.WriteFile(filepath.Join(d.Dir, name+suffix), clip.Data, 0o644)
}
