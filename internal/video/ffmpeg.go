package video

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ivlev/salcache/internal/config"
	"github.com/ivlev/salcache/internal/system"
)

// FFmpeg implements Decoder with the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
	threads     int
	pool        *system.FramePool
	logger      zerolog.Logger
}

var _ Decoder = (*FFmpeg)(nil)

// NewFFmpeg resolves both binaries up front so a missing install fails at
// startup rather than per video.
func NewFFmpeg(cfg config.FFmpegConfig, logger zerolog.Logger) (*FFmpeg, error) {
	ffmpegPath, err := exec.LookPath(orDefault(cfg.FFmpegPath, "ffmpeg"))
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	ffprobePath, err := exec.LookPath(orDefault(cfg.FFprobePath, "ffprobe"))
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found: %w", err)
	}
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     cfg.Threads,
		pool:        system.NewFramePool(),
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
	}, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (f *FFmpeg) baseArgs() []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "error", "-nostdin"}
	if f.threads > 0 {
		args = append(args, "-threads", strconv.Itoa(f.threads))
	}
	return args
}

// run executes ffmpeg and folds stderr into the error.
func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	full := append(f.baseArgs(), args...)
	f.logger.Debug().Strs("args", full).Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, f.ffmpegPath, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func scaleFilter(size Size) string {
	return fmt.Sprintf("scale=%d:%d:flags=bicubic", size.Width, size.Height)
}
