package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ah-its-andy/mediaconv/internal/decision"
	"github.com/ah-its-andy/mediaconv/internal/events"
	"github.com/ah-its-andy/mediaconv/internal/media"
)

// DefaultProgressEvery is how many skipped files separate two skip
// progress events.
const DefaultProgressEvery = 100

// Decider is the part of the decision engine discovery needs.
type Decider interface {
	Decide(ctx context.Context, f media.File) decision.Result
}

// Options configures a walk.
type Options struct {
	ProgressEvery int               // skip progress cadence, DefaultProgressEvery when <= 0
	Exclude       []string          // directories never entered (scratch, data ...)
	Match         func(string) bool // extension filter, required
	RunID         string
}

// Iterator is a lazy, finite sequence of files that need conversion. It is
// not restartable: once Next returns false a new Iterator must be built.
//
// Directories are visited depth first with entries in lexical order, so the
// sequence is stable for a given tree.
type Iterator struct {
	decider Decider
	obs     events.Observer
	opts    Options

	stack   []string
	pending []media.File
	cur     media.File
	err     error
	started bool
	done    bool

	seen    int
	skipped int
	errors  int
}

// New returns an iterator over root. Nothing is read until the first Next.
func New(root string, decider Decider, obs events.Observer, opts Options) *Iterator {
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = DefaultProgressEvery
	}
	if obs == nil {
		obs = events.Discard
	}
	excl := make([]string, 0, len(opts.Exclude))
	for _, x := range opts.Exclude {
		if strings.TrimSpace(x) != "" {
			excl = append(excl, filepath.Clean(x))
		}
	}
	opts.Exclude = excl
	return &Iterator{
		decider: decider,
		obs:     obs,
		opts:    opts,
		stack:   []string{filepath.Clean(root)},
	}
}

// Next advances to the next file whose verdict is convert. It returns false
// when the tree is exhausted, ctx is done or the root cannot be read; check
// Err to tell them apart.
func (it *Iterator) Next(ctx context.Context) bool {
	if it.done {
		return false
	}
	for {
		if err := ctx.Err(); err != nil {
			it.finish(err)
			return false
		}

		if len(it.pending) == 0 {
			if len(it.stack) == 0 {
				it.finish(nil)
				return false
			}
			if err := it.expand(); err != nil {
				it.finish(err)
				return false
			}
			continue
		}

		f := it.pending[0]
		it.pending = it.pending[1:]
		// earlier conversions in this directory may have replaced or
		// removed the file since it was listed
		fresh, err := media.Stat(f.Path)
		if err != nil {
			continue
		}
		f = fresh
		it.seen++

		res := it.decider.Decide(ctx, f)
		if res.Verdict == decision.Convert {
			if res.Err != nil {
				it.notifyErr(f, res.Err)
			}
			it.cur = f
			return true
		}
		if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			continue
		}
		it.skip(f, res)
	}
}

// File returns the current candidate.
func (it *Iterator) File() media.File { return it.cur }

// Err returns the error that ended the walk, context errors included.
// Unreadable subdirectories are reported as events, not here.
func (it *Iterator) Err() error { return it.err }

// Seen is the number of matching files decided so far.
func (it *Iterator) Seen() int { return it.seen }

// Skipped is the number of matching files judged already done.
func (it *Iterator) Skipped() int { return it.skipped }

// Errors is the number of probe failures and unreadable directories.
func (it *Iterator) Errors() int { return it.errors }

// Close ends the walk early. The final count event is emitted once,
// whether the walk was exhausted or closed.
func (it *Iterator) Close() {
	if !it.done {
		it.finish(nil)
	}
}

// Collect drains the iterator.
func (it *Iterator) Collect(ctx context.Context) ([]media.File, error) {
	var out []media.File
	for it.Next(ctx) {
		out = append(out, it.File())
	}
	return out, it.Err()
}

// expand pops one directory, queues its matching files and pushes its
// subdirectories so they come out in lexical order.
func (it *Iterator) expand() error {
	isRoot := !it.started
	it.started = true
	dir := it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]

	entries, err := os.ReadDir(dir)
	if err != nil {
		if isRoot {
			return fmt.Errorf("read root %s: %w", dir, err)
		}
		it.errors++
		it.obs.Notify(events.Event{
			Level:   events.LevelError,
			Kind:    events.KindInfo,
			RunID:   it.opts.RunID,
			Path:    dir,
			Err:     err,
			Message: fmt.Sprintf("cannot read directory %s: %v", dir, err),
		})
		return nil
	}

	var subdirs []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() {
			if !it.excluded(path) {
				subdirs = append(subdirs, path)
			}
			continue
		}
		if !e.Type().IsRegular() || it.opts.Match == nil || !it.opts.Match(path) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// vanished between ReadDir and Info
			continue
		}
		it.pending = append(it.pending, media.FromInfo(path, info))
	}
	for i := len(subdirs) - 1; i >= 0; i-- {
		it.stack = append(it.stack, subdirs[i])
	}
	return nil
}

func (it *Iterator) excluded(path string) bool {
	for _, x := range it.opts.Exclude {
		if path == x || strings.HasPrefix(path, x+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (it *Iterator) skip(f media.File, res decision.Result) {
	it.skipped++

	if res.Reason == decision.ReasonProbeFailed {
		it.errors++
		it.obs.Notify(events.Event{
			Level:   events.LevelError,
			Kind:    events.KindProbeFailed,
			RunID:   it.opts.RunID,
			Path:    f.Path,
			Err:     res.Err,
			Message: fmt.Sprintf("cannot read %s, skipping: %v", f.Path, res.Err),
		})
	} else if res.Err != nil {
		it.notifyErr(f, res.Err)
	}

	it.obs.Notify(events.Event{
		Level:   events.LevelInfo,
		Kind:    events.KindSkipped,
		RunID:   it.opts.RunID,
		Path:    f.Path,
		Message: fmt.Sprintf("skipped %s (%s)", f.Path, res.Reason),
	})

	if it.skipped%it.opts.ProgressEvery == 0 {
		it.obs.Notify(events.Event{
			Level:   events.LevelInfo,
			Kind:    events.KindSkipProgress,
			RunID:   it.opts.RunID,
			Count:   it.skipped,
			Message: fmt.Sprintf("skipped %d already converted files so far", it.skipped),
		})
	}
}

func (it *Iterator) notifyErr(f media.File, err error) {
	it.obs.Notify(events.Event{
		Level:   events.LevelError,
		Kind:    events.KindInfo,
		RunID:   it.opts.RunID,
		Path:    f.Path,
		Err:     err,
		Message: fmt.Sprintf("%s: %v", f.Path, err),
	})
}

func (it *Iterator) finish(err error) {
	it.done = true
	it.err = err
	it.pending = nil
	it.stack = nil
	it.obs.Notify(events.Event{
		Level:   events.LevelInfo,
		Kind:    events.KindDiscoveryDone,
		RunID:   it.opts.RunID,
		Count:   it.skipped,
		Message: fmt.Sprintf("discovery finished: %d files checked, %d skipped, %d errors", it.seen, it.skipped, it.errors),
	})
}
