package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ah-its-andy/mediaconv/internal/converter"
	"github.com/ah-its-andy/mediaconv/internal/fingerprint"
	"github.com/ah-its-andy/mediaconv/internal/format"
	"github.com/ah-its-andy/mediaconv/internal/media"
)

// Verdict is the outcome for one candidate file.
type Verdict int

const (
	Convert Verdict = iota
	Skip
)

func (v Verdict) String() string {
	if v == Skip {
		return "skip"
	}
	return "convert"
}

// Reason names the tier that produced the verdict.
type Reason string

const (
	ReasonNotTarget   Reason = "source extension"
	ReasonFingerprint Reason = "fingerprint"
	ReasonFooter      Reason = "footer marker"
	ReasonCodec       Reason = "target codec"
	ReasonProbeFailed Reason = "probe failed"
	ReasonUnconfirmed Reason = "unconfirmed"
)

// Options toggles the optional tiers.
type Options struct {
	FooterCheck  bool
	FooterMarker string
	FooterWindow int64
	Tag          string // provenance tag required next to the footer marker

	ProbeCheck         bool
	MarkBadAsCompleted bool
}

// Result is a verdict plus whatever went wrong while reaching it. Err is set
// for probe failures (Verdict is then Skip) and for failures to persist a
// promoted fingerprint.
type Result struct {
	Verdict Verdict
	Reason  Reason
	Err     error
}

// Engine answers "is this file already done?" escalating from the cheapest
// check to the most expensive one.
type Engine struct {
	cache   *fingerprint.Cache
	prober  converter.Prober
	profile format.Profile
	opts    Options
}

// New builds an engine. prober may be nil when the probe tier is disabled.
func New(cache *fingerprint.Cache, prober converter.Prober, profile format.Profile, opts Options) (*Engine, error) {
	if cache == nil {
		return nil, errors.New("decision: nil fingerprint cache")
	}
	if opts.ProbeCheck && prober == nil {
		return nil, errors.New("decision: probe check enabled without a prober")
	}
	if opts.FooterCheck && opts.FooterMarker == "" {
		return nil, errors.New("decision: footer check enabled without a marker")
	}
	return &Engine{cache: cache, prober: prober, profile: profile, opts: opts}, nil
}

// Profile returns the target profile the engine decides against.
func (e *Engine) Profile() format.Profile { return e.profile }

// Decide returns Skip or Convert for f. The cache is loaded on first use.
func (e *Engine) Decide(ctx context.Context, f media.File) Result {
	if !e.profile.IsTarget(f.Path) {
		return Result{Verdict: Convert, Reason: ReasonNotTarget}
	}

	if err := e.cache.Load(); err != nil {
		return Result{Verdict: Convert, Reason: ReasonUnconfirmed, Err: err}
	}
	if e.cache.ContainsFile(f) {
		return Result{Verdict: Skip, Reason: ReasonFingerprint}
	}

	if e.opts.FooterCheck {
		ok, err := converter.HasFooterMarker(f.Path, e.opts.FooterMarker, e.opts.Tag, e.opts.FooterWindow)
		if err == nil && ok {
			return e.promote(f, ReasonFooter)
		}
	}

	if e.opts.ProbeCheck {
		streams, err := e.prober.Probe(ctx, f.Path)
		if err != nil {
			if ctx.Err() != nil {
				return Result{Verdict: Skip, Reason: ReasonProbeFailed, Err: ctx.Err()}
			}
			res := Result{Verdict: Skip, Reason: ReasonProbeFailed, Err: err}
			if e.opts.MarkBadAsCompleted {
				if rerr := e.cache.Record(f); rerr != nil {
					res.Err = errors.Join(err, fmt.Errorf("record bad file: %w", rerr))
				}
			}
			return res
		}
		if hasCodec(streams, e.profile) {
			return e.promote(f, ReasonCodec)
		}
	}

	return Result{Verdict: Convert, Reason: ReasonUnconfirmed}
}

// promote records f so future runs hit the fingerprint fast path.
func (e *Engine) promote(f media.File, reason Reason) Result {
	res := Result{Verdict: Skip, Reason: reason}
	if err := e.cache.Record(f); err != nil {
		res.Err = fmt.Errorf("record fingerprint: %w", err)
	}
	return res
}

func hasCodec(streams []converter.Stream, p format.Profile) bool {
	for _, s := range streams {
		if strings.EqualFold(s.Category, string(p.Category)) && strings.EqualFold(s.Codec, p.Codec) {
			return true
		}
	}
	return false
}
