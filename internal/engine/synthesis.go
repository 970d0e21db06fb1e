package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/KeLuoJun/MindCast/internal/audio"
	"github.com/KeLuoJun/MindCast/internal/podcast"
	"github.com/KeLuoJun/MindCast/internal/runlog"
)

// synthesizeDialogue converts every line to audio with bounded concurrency.
// Results land in a pre-sized slot per line, so output order always matches
// transcript order no matter which synthesis finishes first. Each completed
// segment is reported as it finishes, in completion order. A line that fails
// synthesis is logged and skipped rather than failing the episode;
// cancellation still aborts everything.
func (o *Orchestrator) synthesizeDialogue(ctx context.Context, rl *runlog.Logger, lines []podcast.DialogueLine, progress ProgressFunc) ([]audio.Segment, error) {
	segments := make([]audio.Segment, len(lines))
	sem := semaphore.NewWeighted(int64(o.cfg.SynthesisConcurrency))

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	for i, line := range lines {
		i, line := i, line
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			text := line.SSMLText
			if strings.TrimSpace(text) == "" {
				text = line.Text
			}
			data, err := o.tts.Synthesize(gctx, text, line.VoiceID, line.Emotion)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				rl.Skipped("synthesize", "line synthesis failed, dropping from audio", map[string]any{
					"index":   i,
					"speaker": line.Speaker,
					"error":   err.Error(),
				})
				return nil
			}
			segments[i] = audio.Segment{Data: data, PauseAfter: line.PauseAfter}

			// report under the lock so completion counts stay monotonic
			mu.Lock()
			done++
			rl.Event("synthesize", "segment synthesized", map[string]any{
				"index":       i + 1,
				"speaker":     line.Speaker,
				"bytes":       len(data),
				"pause_after": line.PauseAfter,
			})
			if progress != nil {
				progress("synthesize", fmt.Sprintf("语音合成 (%d/%d): %s", done, len(lines), line.Speaker))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	synthesized := 0
	for _, seg := range segments {
		if len(seg.Data) > 0 {
			synthesized++
		}
	}
	rl.Event("synthesize", "synthesis finished", map[string]any{
		"lines":       len(lines),
		"synthesized": synthesized,
	})
	return segments, nil
}
