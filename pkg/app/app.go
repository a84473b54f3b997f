// Package app wires the posture monitor together: landmark source, state
// machine, publisher, journal and web dashboard.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/teslashibe/go-posture/internal/config"
	"github.com/teslashibe/go-posture/internal/log"
	"github.com/teslashibe/go-posture/pkg/camera"
	"github.com/teslashibe/go-posture/pkg/journal"
	"github.com/teslashibe/go-posture/pkg/landmark"
	"github.com/teslashibe/go-posture/pkg/monitor"
	"github.com/teslashibe/go-posture/pkg/overlay"
	"github.com/teslashibe/go-posture/pkg/pose"
	"github.com/teslashibe/go-posture/pkg/posture"
	"github.com/teslashibe/go-posture/pkg/status"
	"github.com/teslashibe/go-posture/pkg/web"
)

const shutdownTimeout = 3 * time.Second

// App is the running posture monitor.
type App struct {
	config config.Config

	// Landmarks
	source    landmark.Source
	estimator pose.Estimator

	// Pipeline
	machine   *posture.Machine
	publisher *status.Publisher
	loop      *monitor.Loop

	// Journal (optional)
	store    *journal.Store
	recorder *journal.Recorder

	// Web dashboard
	webServer *web.Server
}

// New validates the configuration.
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &App{config: cfg}, nil
}

// Init opens devices and files and builds the pipeline.
// Call this after New() and before Run().
func (a *App) Init() error {
	if err := a.initSource(); err != nil {
		return fmt.Errorf("landmark source: %w", err)
	}

	var j web.Journal
	if a.config.JournalPath != "" {
		store, err := journal.Open(a.config.JournalPath)
		if err != nil {
			return fmt.Errorf("journal: %w", err)
		}
		a.store = store
		a.recorder = journal.NewRecorder(store)
		j = store
		log.Info("journal opened", "path", a.config.JournalPath)
	}

	a.webServer = web.NewServer(web.Config{Addr: a.config.Addr(), StaticDir: a.config.StaticDir}, j)
	a.publisher = status.NewPublisher(a.webServer)
	a.machine = posture.NewMachine(a.config.Posture())

	opts := []monitor.Option{monitor.WithRetryDelay(a.config.RetryDelay)}
	if a.config.Source == config.SourceReplay {
		opts = append(opts, monitor.WithInterval(a.config.ReplayInterval))
	}
	if a.config.Annotate {
		opts = append(opts, monitor.WithAnnotator(overlay.New(a.jpegQuality())))
	}
	if a.recorder != nil {
		opts = append(opts, monitor.WithRecorder(a.recorder))
	}
	a.loop = monitor.New(a.source, a.machine, a.publisher, opts...)
	a.webServer.Attach(a.publisher, a.loop)

	return nil
}

func (a *App) initSource() error {
	switch a.config.Source {
	case config.SourceReplay:
		f, err := os.Open(a.config.ReplayPath)
		if err != nil {
			return err
		}
		a.source = landmark.NewReplaySource(f)
		log.Info("replaying recording", "path", a.config.ReplayPath)

	case config.SourceStream:
		cfg := landmark.DefaultStreamConfig()
		cfg.URL = a.config.StreamURL
		a.source = landmark.NewStreamSource(cfg)
		log.Info("streaming landmarks", "url", cfg.URL)

	case config.SourceCamera:
		if err := a.initEstimator(); err != nil {
			return fmt.Errorf("estimator: %w", err)
		}
		cfg, err := a.cameraConfig()
		if err != nil {
			return err
		}
		cam, err := camera.Open(cfg, a.estimator)
		if err != nil {
			return err
		}
		a.source = cam

	default:
		return fmt.Errorf("unknown source %q", a.config.Source)
	}
	return nil
}

func (a *App) initEstimator() error {
	switch a.config.Estimator {
	case config.EstimatorRemote:
		a.estimator = pose.NewRemote(a.config.EstimatorURL, 0)
		log.Info("using remote pose service", "url", a.config.EstimatorURL)
	default:
		cfg := pose.DefaultYOLOConfig()
		cfg.ModelPath = a.config.ModelPath
		est, err := pose.NewYOLOPose(cfg)
		if err != nil {
			return err
		}
		a.estimator = est
		log.Info("pose model loaded", "path", cfg.ModelPath)
	}
	return nil
}

func (a *App) cameraConfig() (camera.Config, error) {
	preset := camera.GetPreset(a.config.CameraPreset)
	if preset == nil {
		return camera.Config{}, fmt.Errorf("unknown camera preset %q (have %v)", a.config.CameraPreset, camera.PresetNames())
	}
	cfg := *preset
	cfg.Device = a.config.CameraDevice
	cfg.Mirror = a.config.Mirror
	return cfg, nil
}

func (a *App) jpegQuality() int {
	if preset := camera.GetPreset(a.config.CameraPreset); preset != nil {
		return preset.Quality
	}
	return camera.DefaultConfig().Quality
}

// Run starts the dashboard and the sampling loop.
// Blocks until ctx is cancelled or a component fails. A finished replay
// keeps the dashboard up until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.recorder != nil {
		go a.recorder.Run(ctx)
	}

	webErr := make(chan error, 1)
	go func() {
		webErr <- a.webServer.Start(ctx)
	}()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- a.loop.Run(ctx)
	}()

	log.Info("posture monitor running", "source", a.config.Source, "addr", a.config.Addr())

	select {
	case err := <-webErr:
		cancel()
		<-loopErr
		if err != nil {
			return fmt.Errorf("web: %w", err)
		}
		return nil

	case err := <-loopErr:
		if err == nil {
			return nil
		}
		if a.config.Source == config.SourceReplay && errors.Is(err, landmark.ErrClosed) {
			log.Info("replay finished, dashboard still serving", "stats", a.loop.Stats())
			select {
			case <-ctx.Done():
				return nil
			case err := <-webErr:
				if err != nil {
					return fmt.Errorf("web: %w", err)
				}
				return nil
			}
		}
		return err
	}
}

// Shutdown stops the dashboard and releases devices and files.
func (a *App) Shutdown() {
	log.Info("shutting down")

	if a.webServer != nil {
		if err := a.webServer.Shutdown(); err != nil {
			log.Warn("web shutdown", "error", err)
		}
	}
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			log.Warn("close source", "error", err)
		}
	}
	if a.estimator != nil {
		if err := a.estimator.Close(); err != nil {
			log.Warn("close estimator", "error", err)
		}
	}
	if a.recorder != nil {
		select {
		case <-a.recorder.Done():
		case <-time.After(shutdownTimeout):
			log.Warn("journal did not flush in time", "dropped", a.recorder.Dropped())
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Warn("close journal", "error", err)
		}
	}
}

// Stats returns loop counters.
func (a *App) Stats() monitor.Stats {
	if a.loop == nil {
		return monitor.Stats{}
	}
	return a.loop.Stats()
}
