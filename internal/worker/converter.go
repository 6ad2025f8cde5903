package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ah-its-andy/mediaconv/internal/events"
	"github.com/ah-its-andy/mediaconv/internal/media"
	"github.com/ah-its-andy/mediaconv/internal/utils"
)

// convertOne runs the per-item protocol for f: transcode into the scratch
// area, replace the original, record the new identity. It returns false when
// the loop must stop because of cancellation.
func (w *Worker) convertOne(ctx context.Context, r *run, f media.File) bool {
	start := time.Now()
	dst, self, err := w.target(f)
	if err != nil {
		w.itemFailed(r, f, err, time.Since(start))
		return true
	}
	tmp := filepath.Join(w.cfg.ScratchDir(), uuid.NewString()+"."+w.profile.Ext)

	last := -1
	progress := func(pct int) {
		if pct == last {
			return
		}
		last = pct
		w.obs.Notify(events.Event{
			Time:    time.Now(),
			Kind:    events.KindProgress,
			RunID:   r.id,
			Path:    f.Path,
			Percent: pct,
			Message: fmt.Sprintf("%s %d%%", f.Name(), pct),
		})
	}

	err = w.tr.Transcode(ctx, f.Path, tmp, w.params, progress)
	if ctx.Err() != nil {
		// never commit output produced while canceling
		_ = os.Remove(tmp)
		w.obs.Notify(events.Event{
			Time:    time.Now(),
			Kind:    events.KindCanceled,
			RunID:   r.id,
			Path:    f.Path,
			Message: fmt.Sprintf("canceled while converting %s, original kept", f.Path),
		})
		return false
	}
	if err != nil {
		_ = os.Remove(tmp)
		w.itemFailed(r, f, &ConversionError{Path: f.Path, Stage: StageTranscode, Err: err}, time.Since(start))
		return true
	}

	target, err := w.commit(f, tmp, dst, self)
	if err != nil {
		_ = os.Remove(tmp)
		w.itemFailed(r, f, err, time.Since(start))
		return true
	}

	took := time.Since(start)
	saved := f.Size - target.Size
	r.totals.Processed++
	r.totals.BytesReclaimed += saved
	r.totals.Elapsed += took

	msg := fmt.Sprintf("converted %s -> %s, saved %s in %s", f.Path, target.Name(), humanBytes(saved), took.Round(time.Millisecond))
	if saved < 0 {
		msg = fmt.Sprintf("converted %s -> %s, output grew by %s in %s", f.Path, target.Name(), humanBytes(-saved), took.Round(time.Millisecond))
	}
	w.obs.Notify(events.Event{
		Time:     time.Now(),
		Kind:     events.KindItemDone,
		RunID:    r.id,
		Path:     f.Path,
		Target:   target.Path,
		Bytes:    saved,
		Duration: took,
		Message:  msg,
	})
	return true
}

// target returns the output path of f. self reports that the path names f
// itself, which is also the case when only the extension case differs on a
// case-insensitive filesystem. Any other file already at the path belongs to
// someone else and fails the item before any work is done.
func (w *Worker) target(f media.File) (dst string, self bool, err error) {
	dst = w.profile.TargetPath(f.Path)
	if dst == f.Path {
		return dst, true, nil
	}
	dstInfo, err := os.Stat(dst)
	if errors.Is(err, os.ErrNotExist) {
		return dst, false, nil
	}
	if err != nil {
		return "", false, &ConversionError{Path: f.Path, Stage: StageReplace, Err: err}
	}
	srcInfo, err := os.Stat(f.Path)
	if err != nil {
		return "", false, &ConversionError{Path: f.Path, Stage: StageReplace, Err: err}
	}
	if os.SameFile(srcInfo, dstInfo) {
		return dst, true, nil
	}
	return "", false, &ConversionError{Path: f.Path, Stage: StageReplace, Err: fmt.Errorf("%w: %s", ErrTargetExists, dst)}
}

// commit moves tmp over dst, removes the original unless dst names it and
// records the fingerprint of the replaced file.
func (w *Worker) commit(f media.File, tmp, dst string, self bool) (media.File, error) {
	if err := utils.ReplaceFile(tmp, dst); err != nil {
		return media.File{}, &ConversionError{Path: f.Path, Stage: StageReplace, Err: err}
	}
	if !self {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return media.File{}, &ConversionError{Path: f.Path, Stage: StageReplace, Err: fmt.Errorf("remove original: %w", err)}
		}
	}

	converted, err := media.Stat(dst)
	if err != nil {
		return media.File{}, &ConversionError{Path: f.Path, Stage: StageRecord, Err: err}
	}
	if err := w.cache.Record(converted); err != nil {
		return converted, &ConversionError{Path: f.Path, Stage: StageRecord, Err: err}
	}
	return converted, nil
}

func (w *Worker) itemFailed(r *run, f media.File, err error, took time.Duration) {
	r.totals.Errors++
	w.obs.Notify(events.Event{
		Time:     time.Now(),
		Level:    events.LevelError,
		Kind:     events.KindItemFailed,
		RunID:    r.id,
		Path:     f.Path,
		Duration: took,
		Err:      err,
		Message:  fmt.Sprintf("failed to convert %s: %v", f.Path, err),
	})
}
