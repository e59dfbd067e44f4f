package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

func (f *FFmpeg) probe(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

func (f *FFmpeg) Probe(ctx context.Context, path string) (*Info, error) {
	out, err := f.probe(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	info, err := parseProbe(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	info.Path = path
	return info, nil
}

// ProbePTS decodes the stream headers of every frame and returns their
// timestamps in stream time base units.
func (f *FFmpeg) ProbePTS(ctx context.Context, path string) ([]int64, error) {
	out, err := f.probe(ctx,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "frame=pts,best_effort_timestamp",
		"-print_format", "json",
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	pts, err := parsePTS(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDecode, path, err)
	}
	return pts, nil
}

type probeResult struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType    string `json:"codec_type"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
}

func parseProbe(data []byte) (*Info, error) {
	var probe probeResult
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &Info{}
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(dur * float64(time.Second))
	}
	for _, s := range probe.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Width, info.Height = s.Width, s.Height
		info.FPS = parseFrameRate(s.AvgFrameRate)
		if info.FPS == 0 {
			info.FPS = parseFrameRate(s.RFrameRate)
		}
		info.FrameCount, _ = strconv.Atoi(s.NbFrames)
		break
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("no video stream")
	}
	return info, nil
}

// parseFrameRate reads "30000/1001" or "25".
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}

type ptsResult struct {
	Frames []struct {
		PTS                 *int64 `json:"pts"`
		BestEffortTimeStamp *int64 `json:"best_effort_timestamp"`
	} `json:"frames"`
}

func parsePTS(data []byte) ([]int64, error) {
	var res ptsResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("parse ffprobe frames: %w", err)
	}
	pts := make([]int64, 0, len(res.Frames))
	for i, fr := range res.Frames {
		switch {
		case fr.PTS != nil:
			pts = append(pts, *fr.PTS)
		case fr.BestEffortTimeStamp != nil:
			pts = append(pts, *fr.BestEffortTimeStamp)
		default:
			return nil, fmt.Errorf("frame %d has no timestamp", i)
		}
	}
	return pts, nil
}
