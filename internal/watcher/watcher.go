package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/ah-its-andy/mediaconv/internal/media"
	"github.com/ah-its-andy/mediaconv/internal/utils"
	"github.com/ah-its-andy/mediaconv/internal/worker"
)

// Options configure a Watcher.
type Options struct {
	// Match selects the files whose changes trigger a run.
	Match func(path string) bool
	// Exclude lists directories that are never watched, e.g. the app dir.
	Exclude []string
	// StabilityDelay is the wait between size checks before enqueuing.
	StabilityDelay time.Duration
	// Known reports files that are already converted, such as the outputs
	// a run just committed. Their events never trigger a run.
	Known func(media.File) bool
}

// Watcher watches a tree recursively and enqueues the root whenever an
// input file appears or changes. The queue collapses bursts into one run.
// While paused, changes are remembered and re-checked on Resume.
type Watcher struct {
	root  string
	opts  Options
	queue *worker.Queue
	log   zerolog.Logger
	w     *fsnotify.Watcher

	mu      sync.Mutex
	paused  bool
	pending map[string]struct{}
	missed  map[string]struct{}
	wg      conc.WaitGroup
	ready   chan struct{}
	resumed chan struct{}
}

func NewRecursiveWatcher(root string, q *worker.Queue, log zerolog.Logger, opts Options) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if opts.Match == nil {
		opts.Match = func(string) bool { return true }
	}
	return &Watcher{
		root:    root,
		opts:    opts,
		queue:   q,
		log:     log.With().Str("component", "watcher").Logger(),
		w:       w,
		pending: make(map[string]struct{}),
		missed:  make(map[string]struct{}),
		ready:   make(chan struct{}),
		resumed: make(chan struct{}, 1),
	}, nil
}

// Start registers the tree and handles events until ctx is done. In-flight
// stability checks are waited for before it returns.
func (wr *Watcher) Start(ctx context.Context) error {
	if err := wr.register(wr.root); err != nil {
		return err
	}
	close(wr.ready)
	defer wr.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-wr.w.Events:
			if !ok {
				return nil
			}
			wr.handleEvent(ctx, ev)
		case <-wr.resumed:
			wr.replayMissed(ctx)
		case err, ok := <-wr.w.Errors:
			if !ok {
				return nil
			}
			wr.log.Error().Err(err).Msg("watch error")
		}
	}
}

// Ready is closed once the tree is registered.
func (wr *Watcher) Ready() <-chan struct{} { return wr.ready }

func (wr *Watcher) Close() error { return wr.w.Close() }

// Pause holds back triggers, e.g. while a run rewrites the tree.
func (wr *Watcher) Pause() { wr.mu.Lock(); wr.paused = true; wr.mu.Unlock() }

// Resume re-arms the watcher and re-checks every change seen while paused.
func (wr *Watcher) Resume() {
	wr.mu.Lock()
	wr.paused = false
	wr.mu.Unlock()
	select {
	case wr.resumed <- struct{}{}:
	default:
	}
}

func (wr *Watcher) replayMissed(ctx context.Context) {
	wr.mu.Lock()
	missed := wr.missed
	wr.missed = make(map[string]struct{})
	wr.mu.Unlock()
	for path := range missed {
		wr.schedule(ctx, path)
	}
}

// hold remembers path when paused. It reports whether it did.
func (wr *Watcher) hold(path string) bool {
	wr.mu.Lock()
	defer wr.mu.Unlock()
	if wr.paused {
		wr.missed[path] = struct{}{}
	}
	return wr.paused
}

func (wr *Watcher) excluded(path string) bool {
	for _, ex := range wr.opts.Exclude {
		if ex == "" {
			continue
		}
		if path == ex || strings.HasPrefix(path, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// register adds dir and its subdirectories. The root must be readable;
// failures below it are logged.
func (wr *Watcher) register(dir string) error {
	if err := wr.w.Add(dir); err != nil {
		return err
	}
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			wr.log.Warn().Err(err).Str("path", path).Msg("cannot walk")
			return nil
		}
		if !d.IsDir() || path == dir {
			return nil
		}
		if wr.excluded(path) {
			return filepath.SkipDir
		}
		if err := wr.w.Add(path); err != nil {
			wr.log.Warn().Err(err).Str("path", path).Msg("cannot watch")
		}
		return nil
	})
}

func (wr *Watcher) handleEvent(ctx context.Context, ev fsnotify.Event) {
	if wr.excluded(ev.Name) {
		return
	}
	if ev.Has(fsnotify.Create) {
		fi, err := os.Stat(ev.Name)
		if err == nil && fi.IsDir() {
			if err := wr.register(ev.Name); err != nil {
				wr.log.Warn().Err(err).Str("path", ev.Name).Msg("cannot watch")
			}
			// files may have landed before the directory was watched
			if wr.containsMatch(ev.Name) {
				wr.trigger(ev.Name)
			}
			return
		}
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}
	if !wr.opts.Match(ev.Name) {
		return
	}
	wr.schedule(ctx, ev.Name)
}

// schedule waits for path to stop growing, then enqueues the root. One
// check runs per path at a time.
func (wr *Watcher) schedule(ctx context.Context, path string) {
	if wr.hold(path) {
		return
	}
	wr.mu.Lock()
	if _, ok := wr.pending[path]; ok {
		wr.mu.Unlock()
		return
	}
	wr.pending[path] = struct{}{}
	wr.mu.Unlock()

	wr.wg.Go(func() {
		defer func() {
			wr.mu.Lock()
			delete(wr.pending, path)
			wr.mu.Unlock()
		}()
		if err := utils.WaitFileStable(ctx, path, wr.opts.StabilityDelay); err != nil {
			if ctx.Err() == nil {
				wr.log.Debug().Err(err).Str("path", path).Msg("file vanished before it settled")
			}
			return
		}
		wr.trigger(path)
	})
}

func (wr *Watcher) trigger(path string) {
	if wr.known(path) {
		wr.log.Debug().Str("path", path).Msg("already converted, ignored")
		return
	}
	if wr.hold(path) {
		return
	}
	if wr.queue.Enqueue(wr.root) {
		wr.log.Info().Str("path", path).Msg("change detected, run queued")
	}
}

func (wr *Watcher) known(path string) bool {
	if wr.opts.Known == nil {
		return false
	}
	f, err := media.Stat(path)
	if err != nil {
		return false
	}
	return wr.opts.Known(f)
}

func (wr *Watcher) containsMatch(dir string) bool {
	found := false
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || found {
			return filepath.SkipAll
		}
		if !d.IsDir() && wr.opts.Match(path) {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}
