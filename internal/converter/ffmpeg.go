package converter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Engine drives the ffmpeg and ffprobe executables.
type Engine struct {
	FFmpegPath  string
	FFprobePath string
	WorkDir     string // working directory for spawned processes, optional
}

// NewEngine locates both executables. A bare name is looked up in workDir
// first (when set) and then on PATH; anything containing a separator is used
// as given.
func NewEngine(ffmpeg, ffprobe, workDir string) (*Engine, error) {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	ffmpegPath, err := locate(ffmpeg, workDir)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found: %w", err)
	}
	ffprobePath, err := locate(ffprobe, workDir)
	if err != nil {
		return nil, fmt.Errorf("ffprobe binary not found: %w", err)
	}
	return &Engine{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, WorkDir: workDir}, nil
}

func locate(name, workDir string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) {
		if workDir != "" && !filepath.IsAbs(name) {
			name = filepath.Join(workDir, name)
		}
		return exec.LookPath(name)
	}
	if workDir != "" {
		if p, err := exec.LookPath(filepath.Join(workDir, name)); err == nil {
			return p, nil
		}
	}
	return exec.LookPath(name)
}

// BuildArgs returns the ffmpeg argument list for one conversion.
func BuildArgs(src, dst string, p Params) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	if p.IgnoreErrors {
		args = append(args, "-err_detect", "ignore_err", "-fflags", "+discardcorrupt")
	}
	args = append(args, "-i", src, "-map_metadata", "0")
	if p.StreamCopy {
		args = append(args, "-c", "copy")
	}
	if p.Tag != "" {
		args = append(args, "-metadata", "comment="+p.Tag)
	}
	args = append(args, p.ExtraArgs...)
	args = append(args, "-progress", "pipe:1", "-nostats", dst)
	return args
}

// Transcode runs ffmpeg for src -> dst and streams progress to fn.
func (e *Engine) Transcode(ctx context.Context, src, dst string, p Params, fn ProgressFunc) error {
	var total time.Duration
	if fn != nil {
		if info, err := e.probe(ctx, src); err == nil {
			total = info.Duration
		}
	}

	cmd := exec.CommandContext(ctx, e.FFmpegPath, BuildArgs(src, dst, p)...)
	cmd.Dir = e.WorkDir
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	// stdout must be fully read before Wait closes the pipe
	ParseProgress(stdout, total, fn)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed: %w, output: %s", err, strings.TrimSpace(stderr.String()))
	}
	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("ffmpeg did not create output file: %w", err)
	}
	return nil
}

// ParseProgress reads ffmpeg's -progress key=value stream and reports
// percentages of total. Without a known total only completion is reported.
func ParseProgress(r io.Reader, total time.Duration, fn ProgressFunc) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok || fn == nil {
			continue
		}
		switch key {
		case "out_time_us", "out_time_ms":
			// both keys carry microseconds
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil || total <= 0 || us < 0 {
				continue
			}
			pct := int(time.Duration(us) * time.Microsecond * 100 / total)
			if pct > 100 {
				pct = 100
			}
			fn(pct)
		case "progress":
			if value == "end" {
				fn(100)
			}
		}
	}
	// drain so the child never blocks on a full pipe
	_, _ = io.Copy(io.Discard, r)
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeInfo is the decoded subset of ffprobe output.
type ProbeInfo struct {
	Streams  []Stream
	Duration time.Duration
}

// Probe implements Prober using ffprobe.
func (e *Engine) Probe(ctx context.Context, path string) ([]Stream, error) {
	info, err := e.probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return info.Streams, nil
}

func (e *Engine) probe(ctx context.Context, path string) (ProbeInfo, error) {
	cmd := exec.CommandContext(ctx, e.FFprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	cmd.Dir = e.WorkDir
	stderr := &tailBuffer{max: 2048}
	cmd.Stderr = stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return ProbeInfo{}, ctx.Err()
		}
		return ProbeInfo{}, &ProbeError{Path: path, Err: fmt.Errorf("ffprobe error: %w - %s", err, strings.TrimSpace(stderr.String()))}
	}
	return ParseProbe(path, out)
}

// ParseProbe decodes ffprobe JSON output.
func ParseProbe(path string, data []byte) (ProbeInfo, error) {
	var po probeOutput
	if err := json.Unmarshal(data, &po); err != nil {
		return ProbeInfo{}, &ProbeError{Path: path, Err: fmt.Errorf("decode ffprobe output: %w", err)}
	}
	if len(po.Streams) == 0 {
		return ProbeInfo{}, &ProbeError{Path: path, Err: errors.New("no media streams")}
	}
	info := ProbeInfo{Streams: make([]Stream, 0, len(po.Streams))}
	for _, s := range po.Streams {
		info.Streams = append(info.Streams, Stream{Category: s.CodecType, Codec: s.CodecName})
	}
	if secs, err := strconv.ParseFloat(po.Format.Duration, 64); err == nil && secs > 0 {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	return info, nil
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
