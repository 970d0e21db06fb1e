// Package audio stitches synthesized speech segments into one episode file
// using ffmpeg, with loudness normalization and natural pauses between lines.
package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNoSegments reports a stitch call with nothing to stitch, e.g. when every
// line failed synthesis.
var ErrNoSegments = errors.New("no audio segments to stitch")

// Runner executes external commands, injectable for tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	// #nosec G204 -- arguments are constructed internally, not from external input
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- arguments are constructed internally, not from external input
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", name, err)
	}
	return out, nil
}

// Segment is one synthesized line plus the silence to leave after it.
type Segment struct {
	Data       []byte
	PauseAfter float64 // seconds
}

// Processor assembles segments into an episode file with ffmpeg.
type Processor struct {
	runner Runner
	format string // "mp3" or "wav"
}

// NewProcessor creates an audio processor. runner nil gets the exec-backed
// default; format defaults to mp3.
func NewProcessor(runner Runner, format string) *Processor {
	if runner == nil {
		runner = ExecRunner{}
	}
	if format != "wav" {
		format = "mp3"
	}
	return &Processor{runner: runner, format: format}
}

// Stitch normalizes each segment's loudness, inserts the configured pauses,
// concatenates everything into outputPath and returns the episode duration
// in seconds. Segments with empty data are skipped; all-empty input returns
// ErrNoSegments.
func (p *Processor) Stitch(ctx context.Context, segments []Segment, outputPath string) (float64, error) {
	tempDir, err := os.MkdirTemp("", "mindcast-stitch-")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	var parts []string
	for i, seg := range segments {
		if len(seg.Data) == 0 {
			continue
		}
		raw := filepath.Join(tempDir, fmt.Sprintf("seg_%04d.%s", i, p.format))
		if err := os.WriteFile(raw, seg.Data, 0o600); err != nil {
			return 0, fmt.Errorf("failed to write segment %d: %w", i, err)
		}
		norm := filepath.Join(tempDir, fmt.Sprintf("norm_%04d.%s", i, p.format))
		if err := p.normalize(ctx, raw, norm); err != nil {
			// fall back to the raw segment rather than dropping the line
			log.Warn().Err(err).Int("segment", i).Msg("loudness normalization failed, using raw audio")
			norm = raw
		}
		parts = append(parts, norm)

		if seg.PauseAfter > 0 {
			silence := filepath.Join(tempDir, fmt.Sprintf("pause_%04d.%s", i, p.format))
			if err := p.makeSilence(ctx, seg.PauseAfter, silence); err != nil {
				log.Warn().Err(err).Int("segment", i).Msg("silence generation failed, skipping pause")
				continue
			}
			parts = append(parts, silence)
		}
	}
	if len(parts) == 0 {
		return 0, ErrNoSegments
	}

	concatFile, err := writeConcatFile(tempDir, parts)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o750); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", concatFile,
	}
	args = append(args, p.encodeArgs()...)
	args = append(args, outputPath)
	if err := p.runner.Run(ctx, "ffmpeg", args...); err != nil {
		return 0, fmt.Errorf("failed to concatenate audio segments: %w", err)
	}

	duration, err := p.probeDuration(ctx, outputPath)
	if err != nil {
		// duration is informational, the episode file itself is intact
		log.Warn().Err(err).Str("path", outputPath).Msg("failed to probe episode duration")
		return 0, nil
	}
	return duration, nil
}

// normalize applies single-pass loudnorm so adjacent voices don't jump in
// volume.
func (p *Processor) normalize(ctx context.Context, in, out string) error {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", in,
		"-af", "loudnorm=I=-16:TP=-1.5:LRA=11",
	}
	args = append(args, p.encodeArgs()...)
	args = append(args, out)
	return p.runner.Run(ctx, "ffmpeg", args...)
}

func (p *Processor) makeSilence(ctx context.Context, seconds float64, out string) error {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-f", "lavfi",
		"-i", "anullsrc=r=32000:cl=mono",
		"-t", strconv.FormatFloat(seconds, 'f', 2, 64),
	}
	args = append(args, p.encodeArgs()...)
	args = append(args, out)
	return p.runner.Run(ctx, "ffmpeg", args...)
}

func (p *Processor) encodeArgs() []string {
	if p.format == "wav" {
		return []string{"-acodec", "pcm_s16le", "-ar", "32000"}
	}
	return []string{"-acodec", "libmp3lame", "-b:a", "128k", "-ar", "32000"}
}

func (p *Processor) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := p.runner.Output(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}
	return duration, nil
}

func writeConcatFile(tempDir string, files []string) (string, error) {
	concatFile := filepath.Join(tempDir, "concat.txt")
	var sb strings.Builder
	for _, file := range files {
		// escape single quotes in filenames for ffmpeg concat format
		safeFile := strings.ReplaceAll(file, "'", "'\\''")
		sb.WriteString(fmt.Sprintf("file '%s'\n", safeFile))
	}
	if err := os.WriteFile(concatFile, []byte(sb.String()), 0o600); err != nil {
		return "", fmt.Errorf("failed to write concat file: %w", err)
	}
	return concatFile, nil
}
