package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ah-its-andy/mediaconv/internal/config"
	"github.com/ah-its-andy/mediaconv/internal/converter"
	"github.com/ah-its-andy/mediaconv/internal/decision"
	"github.com/ah-its-andy/mediaconv/internal/discovery"
	"github.com/ah-its-andy/mediaconv/internal/events"
	"github.com/ah-its-andy/mediaconv/internal/fingerprint"
	"github.com/ah-its-andy/mediaconv/internal/format"
	"github.com/ah-its-andy/mediaconv/internal/media"
	"github.com/ah-its-andy/mediaconv/internal/utils"
)

// State of the orchestrator.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateConverting State = "converting"
	StateCompleted  State = "completed"
)

// Summary is what a run produced.
type Summary struct {
	RunID      string
	Root       string
	Format     string
	StartedAt  time.Time
	FinishedAt time.Time
	events.Totals
}

// Worker is the conversion orchestrator. It processes candidates strictly
// one at a time; concurrent Run calls are rejected with ErrBusy.
type Worker struct {
	cfg     *config.Config
	profile format.Profile
	cache   *fingerprint.Cache
	decider *decision.Engine
	tr      converter.Transcoder
	obs     events.Observer
	params  converter.Params

	runMu sync.Mutex

	mu    sync.RWMutex
	state State
}

// New validates cfg and wires the cache and decision engine. Any returned
// error is a *config.Error or comes from wiring the decision engine.
// prober may be nil unless the probe check is enabled.
func New(cfg *config.Config, tr converter.Transcoder, prober converter.Prober, obs events.Observer) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tr == nil {
		return nil, &config.Error{Code: config.CodeInvalidValue, Field: "engine", Err: errors.New("no transcoder")}
	}
	profile, err := cfg.Profile()
	if err != nil {
		return nil, err
	}
	if obs == nil {
		obs = events.Discard
	}

	cache := fingerprint.NewCache(cfg.DataDir())
	decider, err := decision.New(cache, prober, profile, decision.Options{
		FooterCheck:        cfg.Check.Footer,
		FooterMarker:       cfg.Check.FooterMarker,
		FooterWindow:       cfg.Check.FooterWindow,
		Tag:                cfg.Convert.Tag,
		ProbeCheck:         cfg.Check.Probe,
		MarkBadAsCompleted: cfg.Check.MarkBadCompleted,
	})
	if err != nil {
		return nil, &config.Error{Code: config.CodeInvalidValue, Field: "check", Err: err}
	}

	return &Worker{
		cfg:     cfg,
		profile: profile,
		cache:   cache,
		decider: decider,
		tr:      tr,
		obs:     obs,
		params: converter.Params{
			IgnoreErrors: cfg.Convert.IgnoreErrors,
			StreamCopy:   cfg.Convert.StreamCopy,
			Tag:          cfg.Convert.Tag,
			ExtraArgs:    cfg.Convert.ExtraArgs,
		},
		state: StateIdle,
	}, nil
}

// Cache returns the fingerprint cache shared by every run of this worker.
func (w *Worker) Cache() *fingerprint.Cache { return w.cache }

// Profile returns the target format profile.
func (w *Worker) Profile() format.Profile { return w.profile }

func (w *Worker) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Worker) setState(runID string, s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
	w.obs.Notify(events.Event{Time: time.Now(), Kind: events.KindState, RunID: runID, Message: string(s)})
}

// run carries per-run bookkeeping.
type run struct {
	id      string
	totals  events.Totals
	prevDir string
}

// Run performs one pass over the configured root. Per-item failures are
// reported through the observer and counted; the returned error is only set
// when the run could not start at all. The summary event is always emitted
// once the run has started.
func (w *Worker) Run(ctx context.Context) (Summary, error) {
	if !w.runMu.TryLock() {
		return Summary{}, ErrBusy
	}
	defer w.runMu.Unlock()

	r := &run{id: uuid.NewString()}
	sum := Summary{RunID: r.id, Root: w.cfg.Root, Format: w.profile.Ext, StartedAt: time.Now()}

	if err := w.cache.Load(); err != nil {
		return sum, fmt.Errorf("load fingerprint cache: %w", err)
	}
	purged, err := utils.PurgeDir(w.cfg.ScratchDir())
	if err != nil {
		return sum, fmt.Errorf("prepare scratch dir: %w", err)
	}

	w.obs.Notify(events.Event{
		Time:    sum.StartedAt,
		Kind:    events.KindRunStarted,
		RunID:   r.id,
		Path:    w.cfg.Root,
		Target:  w.profile.Ext,
		Message: fmt.Sprintf("converting %s to %s", w.cfg.Root, w.profile.Ext),
	})
	if purged > 0 {
		w.info(r, "", fmt.Sprintf("removed %d leftover temporary files", purged))
	}

	it := discovery.New(w.cfg.Root, w.decider, w.obs, discovery.Options{
		ProgressEvery: w.cfg.ProgressEvery,
		Exclude:       []string{w.cfg.AppDir},
		Match:         w.profile.Matches,
		RunID:         r.id,
	})

	if w.cfg.Prescan {
		w.setState(r.id, StateScanning)
		files, err := it.Collect(ctx)
		if err == nil {
			w.info(r, "", fmt.Sprintf("found %d files to convert", len(files)))
			w.setState(r.id, StateConverting)
			next, current := sliceSource(files)
			w.convertAll(ctx, r, next, current, len(files))
		} else if !isCanceled(err) {
			w.fail(r, "", err)
		}
	} else {
		w.setState(r.id, StateConverting)
		w.convertAll(ctx, r, it.Next, it.File, 0)
		it.Close()
		if err := it.Err(); err != nil && !isCanceled(err) {
			w.fail(r, "", err)
		}
	}

	r.totals.Skipped += it.Skipped()
	r.totals.Errors += it.Errors()
	w.info(r, "", fmt.Sprintf("examined %d candidates, %d already converted", it.Seen(), it.Skipped()))
	if ctx.Err() != nil {
		r.totals.Canceled = true
		w.info(r, "", "run canceled, remaining files left untouched")
	}

	w.setState(r.id, StateCompleted)
	sum.FinishedAt = time.Now()
	sum.Totals = r.totals
	w.summarize(r, sum)
	return sum, nil
}

// source yields candidates; it returns false when there are no more.
type source func(ctx context.Context) bool

func sliceSource(files []media.File) (source, func() media.File) {
	i := -1
	return func(ctx context.Context) bool {
			if ctx.Err() != nil || i+1 >= len(files) {
				return false
			}
			i++
			return true
		}, func() media.File {
			return files[i]
		}
}

func (w *Worker) convertAll(ctx context.Context, r *run, next source, current func() media.File, total int) {
	n := 0
	for next(ctx) {
		f := current()
		n++

		if dir := f.Dir(); dir != r.prevDir {
			r.prevDir = dir
			w.obs.Notify(events.Event{
				Time:    time.Now(),
				Kind:    events.KindDirectory,
				RunID:   r.id,
				Path:    dir,
				Message: "entering " + dir,
			})
		}
		if total > 0 {
			w.info(r, f.Path, fmt.Sprintf("[%d/%d] %s", n, total, f.Name()))
		}

		if !w.convertOne(ctx, r, f) {
			return
		}
		if w.cfg.Limit > 0 && r.totals.Processed >= w.cfg.Limit {
			w.info(r, "", fmt.Sprintf("limit of %d files reached", w.cfg.Limit))
			return
		}
	}
}

func (w *Worker) summarize(r *run, sum Summary) {
	t := sum.Totals
	w.obs.Notify(events.Event{
		Time:     sum.FinishedAt,
		Kind:     events.KindSummary,
		RunID:    r.id,
		Path:     sum.Root,
		Target:   sum.Format,
		Count:    t.Processed,
		Bytes:    t.BytesReclaimed,
		Duration: t.Elapsed,
		Totals:   &t,
		Message: fmt.Sprintf("processed %d files, reclaimed %s, %d errors, %d skipped, took %s",
			t.Processed, humanBytes(t.BytesReclaimed), t.Errors, t.Skipped, t.Elapsed.Round(time.Millisecond)),
	})
}

func (w *Worker) info(r *run, path, msg string) {
	w.obs.Notify(events.Event{Time: time.Now(), Kind: events.KindInfo, RunID: r.id, Path: path, Message: msg})
}

// fail reports an error that is not tied to one item.
func (w *Worker) fail(r *run, path string, err error) {
	r.totals.Errors++
	w.obs.Notify(events.Event{
		Time:    time.Now(),
		Level:   events.LevelError,
		Kind:    events.KindInfo,
		RunID:   r.id,
		Path:    path,
		Err:     err,
		Message: err.Error(),
	})
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func humanBytes(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	const unit = 1024
	s := fmt.Sprintf("%d B", n)
	if n >= unit {
		div, exp := int64(unit), 0
		for m := n / unit; m >= unit; m /= unit {
			div *= unit
			exp++
		}
		s = fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
	}
	if neg {
		return "-" + s
	}
	return s
}
