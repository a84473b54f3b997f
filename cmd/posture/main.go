// posture watches a person at their desk and reports when they slouch.
// Settings come from POSTURE_* environment variables; flags override them.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-posture/internal/config"
	"github.com/teslashibe/go-posture/internal/log"
	"github.com/teslashibe/go-posture/pkg/app"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	cfg = parseFlags(flag.CommandLine, os.Args[1:], cfg)

	log.Init(cfg.LogLevel)

	a, err := app.New(cfg)
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(2)
	}

	if err := a.Init(); err != nil {
		log.Error("initialization failed", "error", err)
		a.Shutdown()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runErr := a.Run(ctx)
	a.Shutdown()
	if runErr != nil {
		log.Error("runtime error", "error", runErr)
		os.Exit(1)
	}
}

// parseFlags applies command line flags on top of the environment config.
func parseFlags(fs *flag.FlagSet, args []string, cfg config.Config) config.Config {
	debug := fs.Bool("debug", false, "Enable debug logging (same as -log-level debug)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP port for the dashboard")
	fs.StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "Directory of dashboard assets served at /")

	fs.StringVar(&cfg.Source, "source", cfg.Source, "Landmark source: camera, replay, stream")
	fs.StringVar(&cfg.ReplayPath, "replay", cfg.ReplayPath, "NDJSON recording to replay (implies -source replay)")
	fs.StringVar(&cfg.StreamURL, "stream-url", cfg.StreamURL, "Websocket URL of a landmark stream")
	fs.StringVar(&cfg.Estimator, "estimator", cfg.Estimator, "Pose estimator for the camera: yolo, remote")
	fs.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "YOLOv8-pose ONNX model")
	fs.StringVar(&cfg.EstimatorURL, "estimator-url", cfg.EstimatorURL, "URL of a remote pose service")

	fs.IntVar(&cfg.CameraDevice, "camera", cfg.CameraDevice, "Camera device index")
	fs.StringVar(&cfg.CameraPreset, "preset", cfg.CameraPreset, "Camera preset: default, low, 720p")
	noMirror := fs.Bool("no-mirror", !cfg.Mirror, "Do not mirror camera frames")
	noAnnotate := fs.Bool("no-annotate", !cfg.Annotate, "Publish frames without overlays")

	fs.StringVar(&cfg.JournalPath, "journal", cfg.JournalPath, "SQLite journal path (empty disables)")
	fs.IntVar(&cfg.CalibrationFrames, "calibration-frames", cfg.CalibrationFrames, "Samples averaged into the baseline")
	fs.IntVar(&cfg.AbsenceLimit, "absence-limit", cfg.AbsenceLimit, "Absent ticks before recalibrating (0 = never)")

	replaySet := false
	fs.Parse(args)
	fs.Visit(func(f *flag.Flag) { replaySet = replaySet || f.Name == "replay" })

	if *debug {
		cfg.LogLevel = "debug"
	}
	cfg.Mirror, cfg.Annotate = !*noMirror, !*noAnnotate
	if replaySet {
		cfg.Source = config.SourceReplay
	}
	return cfg
}
