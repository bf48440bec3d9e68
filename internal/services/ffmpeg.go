package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/storyloom/reel/internal/adapt"
)

// Output / rendering constants — unified square canvas at 24fps.
// Every clip is normalized onto this canvas before adaptation so mixed
// aspect ratios from the clip service never leak into the final cut.
const (
	outputWidth  = 1024
	outputHeight = 1024
	videoFPS     = 24
)

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	tempDir string
}

func NewFFmpegService(tempDir string) *FFmpegService {
	// Create temp directory if it doesn't exist
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create temp dir: %v", err))
	}

	return &FFmpegService{
		tempDir: tempDir,
	}
}

// ProbeDurationSec returns the duration of a media file in seconds using ffprobe.
func (s *FFmpegService) ProbeDurationSec(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return durationSec, nil
}

// NormalizeClip re-encodes a downloaded clip onto the unified square canvas,
// preserving aspect ratio with black padding, fixing the frame rate, and
// stripping any native audio track. All adaptation steps assume their input
// went through this pass so concat can run in stream-copy mode later.
func (s *FFmpegService) NormalizeClip(ctx context.Context, inputPath, outputPath string) error {
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,fps=%d",
		outputWidth, outputHeight, outputWidth, outputHeight, videoFPS,
	)

	args := []string{
		"-i", inputPath,
		"-vf", vf,
		"-an", // narration is attached later; clip-native audio is discarded
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg normalize failed: %w", err)
	}

	return nil
}

// RenderScaledPart time-scales a normalized clip so it plays back in exactly
// part.OutputSec, then trims to that duration to absorb encoder rounding.
// A part scale >1 speeds playback up, <1 slows it down.
func (s *FFmpegService) RenderScaledPart(ctx context.Context, inputPath, outputPath string, part adapt.Part) error {
	// setpts multiplies source timestamps by output/source, which is the
	// inverse of the playback speed factor.
	setpts := fmt.Sprintf("setpts=PTS*%.6f,fps=%d", 1.0/part.Scale(), videoFPS)

	log.Printf("[FFmpeg] Scaling part: %.3fs source -> %.3fs output (speed %.3fx)",
		part.SourceSec, part.OutputSec, part.Scale())

	args := []string{
		"-i", inputPath,
		"-vf", setpts,
		"-t", fmt.Sprintf("%.6f", part.OutputSec),
		"-an",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg scale part failed: %w", err)
	}

	return nil
}

// RenderAdapted materializes an adaptation plan: a scaled plan becomes one
// re-timed render, a looped plan becomes whole repeats of the source plus an
// optional scaled remainder, concatenated into a single file at outputPath.
func (s *FFmpegService) RenderAdapted(ctx context.Context, sourcePath, outputPath string, plan adapt.Plan) error {
	if plan.PartCount() == 1 {
		return s.RenderScaledPart(ctx, sourcePath, outputPath, plan.Parts[0])
	}

	var partPaths []string
	var rendered []string
	for i, part := range plan.Parts {
		// Whole repeats reuse the normalized source directly; only re-timed
		// parts need their own render.
		if part.SourceSec == part.OutputSec {
			partPaths = append(partPaths, sourcePath)
			continue
		}

		partPath := s.CreateTempFile(fmt.Sprintf("%s_part%d.mp4", baseNoExt(outputPath), i))
		if err := s.RenderScaledPart(ctx, sourcePath, partPath, part); err != nil {
			s.Cleanup(rendered...)
			return err
		}
		rendered = append(rendered, partPath)
		partPaths = append(partPaths, partPath)
	}
	defer s.Cleanup(rendered...)

	log.Printf("[FFmpeg] Looping clip: %d whole repeats, remainder=%.3fs, target=%.3fs",
		plan.Loops, plan.RemainderSec, plan.TargetSec)

	return s.Concat(ctx, partPaths, outputPath)
}

// Concat combines multiple video files into one without re-encoding.
// Inputs must share codec parameters — guaranteed by NormalizeClip and
// RenderScaledPart using identical encoder settings.
func (s *FFmpegService) Concat(ctx context.Context, inputPaths []string, outputPath string) error {
	if len(inputPaths) == 0 {
		return fmt.Errorf("no inputs to concatenate")
	}

	listPath, err := s.writeConcatList(inputPaths, baseNoExt(outputPath))
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg concatenate failed: %w", err)
	}

	return nil
}

// ConcatAudio joins narration files back-to-back into one continuous track.
// Segments are butt-joined, not cross-faded, so each segment's audio starts
// exactly at the cumulative end of the previous one.
func (s *FFmpegService) ConcatAudio(ctx context.Context, inputPaths []string, outputPath string) error {
	if len(inputPaths) == 0 {
		return fmt.Errorf("no audio inputs to concatenate")
	}

	listPath, err := s.writeConcatList(inputPaths, baseNoExt(outputPath)+"_audio")
	if err != nil {
		return err
	}
	defer os.Remove(listPath)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c:a", "aac",
		"-b:a", "192k",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg audio concatenate failed: %w", err)
	}

	return nil
}

// MuxAudio attaches the continuous narration track to the concatenated
// video. Video is stream-copied; -shortest clamps the output so trailing
// encoder padding on either stream never stretches the artifact.
func (s *FFmpegService) MuxAudio(ctx context.Context, videoPath, audioPath, outputPath string) error {
	args := []string{
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v",
		"-map", "1:a",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg mux audio failed: %w", err)
	}

	return nil
}

// writeConcatList writes an ffmpeg concat-demuxer list file and returns its path.
func (s *FFmpegService) writeConcatList(paths []string, name string) (string, error) {
	listPath := filepath.Join(s.tempDir, name+"_concat.txt")
	f, err := os.Create(listPath)
	if err != nil {
		return "", fmt.Errorf("failed to create concat list: %w", err)
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		fmt.Fprintf(f, "file '%s'\n", escapeConcatPath(abs))
	}
	f.Close()

	return listPath, nil
}

// escapeConcatPath escapes single quotes for the concat demuxer list format.
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", "'\\''")
}

func baseNoExt(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// CreateTempFile creates a temporary file path in the service's temp directory
func (s *FFmpegService) CreateTempFile(filename string) string {
	return filepath.Join(s.tempDir, filename)
}

// Cleanup removes temporary files
func (s *FFmpegService) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}
