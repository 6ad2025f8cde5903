package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/ah-its-andy/mediaconv/internal/api"
	"github.com/ah-its-andy/mediaconv/internal/config"
	"github.com/ah-its-andy/mediaconv/internal/converter"
	"github.com/ah-its-andy/mediaconv/internal/db"
	"github.com/ah-its-andy/mediaconv/internal/events"
	"github.com/ah-its-andy/mediaconv/internal/fingerprint"
	"github.com/ah-its-andy/mediaconv/internal/livelog"
	"github.com/ah-its-andy/mediaconv/internal/logging"
	"github.com/ah-its-andy/mediaconv/internal/metrics"
	"github.com/ah-its-andy/mediaconv/internal/watcher"
	"github.com/ah-its-andy/mediaconv/internal/worker"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Convert once, then keep converting files as they appear",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the status API over the run history and fingerprint log",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the fingerprint log and scratch files",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every known fingerprint to a report file in the current directory",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var watchHTTP bool

func init() {
	watchCmd.Flags().BoolVar(&watchHTTP, "http", false, "Also serve the status API")
}

// stack is what every command shares: config, logger and the observers.
type stack struct {
	cfg     *config.Config
	log     zerolog.Logger
	history *gorm.DB
	live    *livelog.Manager
	metrics *metrics.Collector
}

func newStack(args []string) (*stack, error) {
	cfg, err := loadConfig(args)
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	return &stack{
		cfg:     cfg,
		log:     log,
		live:    livelog.NewManager(livelog.DefaultCapacity),
		metrics: metrics.New(),
	}, nil
}

// openHistory opens the run history. It is optional for conversions, so a
// failure is only logged unless required is set.
func (s *stack) openHistory(required bool) error {
	conn, err := db.Open(s.cfg.HistoryPath())
	if err != nil {
		if required {
			return err
		}
		s.log.Warn().Err(err).Msg("run history disabled")
		return nil
	}
	s.history = conn
	return nil
}

func (s *stack) close() {
	if s.history != nil {
		_ = db.Close(s.history)
	}
}

func (s *stack) observer() events.Observer {
	obs := events.Multi{logging.NewObserver(s.log), s.metrics, s.live}
	if s.history != nil {
		obs = append(obs, db.NewRecorder(s.history, s.log))
	}
	return obs
}

// newWorker validates the config before the engine lookup touches the
// filesystem.
func (s *stack) newWorker() (*worker.Worker, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	engine, err := converter.NewEngine(s.cfg.Engine.FFmpeg, s.cfg.Engine.FFprobe, s.cfg.Engine.WorkDir)
	if err != nil {
		return nil, &config.Error{Code: config.CodeInvalidValue, Field: "engine", Err: err}
	}
	var prober converter.Prober
	if s.cfg.Check.Probe {
		prober = engine
	}
	return worker.New(s.cfg, engine, prober, s.observer())
}

func (s *stack) server(cache *fingerprint.Cache, q *worker.Queue, fresh bool) *http.Server {
	if s.cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	exportDir, err := os.Getwd()
	if err != nil {
		exportDir = s.cfg.AppDir
	}
	srv := api.NewServer(api.Deps{
		DB:         s.history,
		Cache:      cache,
		Live:       s.live,
		Metrics:    s.metrics,
		Queue:      q,
		Root:       s.cfg.Root,
		ExportDir:  exportDir,
		FreshCache: fresh,
		Log:        s.log,
	})
	return &http.Server{Addr: s.cfg.HTTPAddr(), Handler: srv.Router, ReadHeaderTimeout: 10 * time.Second}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runConvert(cmd *cobra.Command, args []string) error {
	s, err := newStack(args)
	if err != nil {
		return err
	}
	defer s.close()
	_ = s.openHistory(false)

	w, err := s.newWorker()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	_, err = w.Run(ctx)
	return err
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := newStack(args)
	if err != nil {
		return err
	}
	defer s.close()
	if err := s.openHistory(watchHTTP); err != nil {
		return err
	}

	w, err := s.newWorker()
	if err != nil {
		return err
	}

	q := worker.NewQueue(1)
	loop := worker.NewLoop(w, q, s.observer())
	wr, err := watcher.NewRecursiveWatcher(s.cfg.Root, q, s.log, watcher.Options{
		Match:          w.Profile().Matches,
		Exclude:        []string{s.cfg.AppDir},
		StabilityDelay: s.cfg.Watch.StabilityDelay,
		Known:          w.Cache().ContainsFile,
	})
	if err != nil {
		return err
	}
	defer wr.Close()
	// a run's own renames must not queue the next run
	loop.OnStart = func(string) { wr.Pause() }
	loop.OnDone = func(worker.Summary, error) { wr.Resume() }

	ctx, cancel := signalContext()
	defer cancel()

	// the first pass converts what is already there
	q.Enqueue(s.cfg.Root)

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error {
		loop.Run(ctx)
		return nil
	})
	p.Go(func(ctx context.Context) error {
		return wr.Start(ctx)
	})
	if watchHTTP {
		srv := s.server(w.Cache(), q, false)
		p.Go(func(ctx context.Context) error { return serveUntilDone(ctx, srv, s.log) })
	}
	s.log.Info().Str("root", s.cfg.Root).Str("format", w.Profile().Ext).Msg("watching for changes")
	return p.Wait()
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := newStack(args)
	if err != nil {
		return err
	}
	defer s.close()
	if err := s.openHistory(true); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	// runs happen in other processes, so the log is re-read per request
	srv := s.server(fingerprint.NewCache(s.cfg.DataDir()), nil, true)
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error { return serveUntilDone(ctx, srv, s.log) })
	return p.Wait()
}

// serveUntilDone runs srv until ctx is done, then shuts it down gracefully.
func serveUntilDone(ctx context.Context, srv *http.Server, log zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	log.Info().Msg("http server stopped")
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	s, err := newStack(args)
	if err != nil {
		return err
	}
	cache := fingerprint.NewCache(s.cfg.DataDir())
	if err := cache.Reset(s.cfg.ScratchDir()); err != nil {
		return err
	}
	s.log.Info().Str("dir", cache.Dir()).Msg("fingerprint log reset")
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	s, err := newStack(args)
	if err != nil {
		return err
	}
	cache := fingerprint.NewCache(s.cfg.DataDir())
	if err := cache.Load(); err != nil {
		return err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	path, err := cache.ExportTo(cwd)
	if err != nil {
		return err
	}
	s.log.Info().Int("fingerprints", cache.Len()).Msg("fingerprints exported")
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
