package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/api"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/config"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/metrics"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/internal/session"
	ui "github.com/madhavcvedpathak/YogaPoseMonitor2/internal/ui"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/processing/analysis"
	"github.com/madhavcvedpathak/YogaPoseMonitor2/processing/camera"
	processing "github.com/madhavcvedpathak/YogaPoseMonitor2/processing/detector"
	"github.com/mixer/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

type services struct {
	cfg       *config.Config
	client    *api.Client
	session   *session.Controller
	detector  *processing.RemoteDetector
	processor *processing.Processor
}

func main() {
	app := &cli.App{
		Name:  "posemonitor",
		Usage: "stream a camera into a pose service and log yoga sessions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: config.DefaultConfigPath,
				Usage: "path of the JSON config file",
			},
			&cli.StringFlag{
				Name:    "server",
				EnvVars: []string{config.EnvServerURL},
				Usage:   "session server base URL",
			},
			&cli.StringFlag{
				Name:    "token",
				EnvVars: []string{config.EnvAPIToken},
				Usage:   "bearer token sent to the session server",
			},
			&cli.StringFlag{
				Name:    "user",
				EnvVars: []string{config.EnvUserName},
				Usage:   "user name reported when a session starts",
			},
			&cli.StringFlag{
				Name:    "detector",
				EnvVars: []string{config.EnvDetectorHost},
				Usage:   "host:port of the pose inference service",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "one of debug, info, warn, error",
			},
		},
		Before: setupLogging,
		Action: runGUI,
		Commands: []*cli.Command{
			{
				Name:   "gui",
				Usage:  "open the desktop window (default)",
				Action: runGUI,
			},
			{
				Name:   "headless",
				Usage:  "run one session on the configured camera until interrupted",
				Action: runHeadless,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("posemonitor")
	}
}

func setupLogging(c *cli.Context) error {
	level, err := zerolog.ParseLevel(c.String("log-level"))
	if err != nil {
		return errors.Wrap(err, "log level")
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	return nil
}

func loadConfig(c *cli.Context) *config.Config {
	cfg := config.LoadConfigFile(c.String("config"))
	cfg.ApplyEnv()
	cfg.ApplyOverrides(config.Overrides{
		ServerURL:    c.String("server"),
		APIToken:     c.String("token"),
		UserName:     c.String("user"),
		DetectorHost: c.String("detector"),
	})
	return cfg
}

func newServices(c *cli.Context) (*services, error) {
	cfg := loadConfig(c)
	srv := cfg.GetServer()
	det := cfg.GetDetector()

	client, err := api.NewClient(srv.URL, srv.APIToken)
	if err != nil {
		return nil, err
	}

	sess := session.NewController(client, session.Options{
		Clock:         clock.C,
		FlushInterval: cfg.GetFlushInterval(),
		FlushOnEnd:    srv.FlushOnEnd,
	})

	detector := processing.NewRemoteDetector(det.Host, processing.DetectorOptions{
		ModelAssetPath: det.ModelAssetPath,
		NumPoses:       det.NumPoses,
	})

	proc := processing.NewProcessor(detector, analysis.NewStatic(det.PoseLabel, det.PoseConfidence), sess, cfg.GetFPS())

	serveMetrics(cfg.MetricsAddr)

	return &services{
		cfg:       cfg,
		client:    client,
		session:   sess,
		detector:  detector,
		processor: proc,
	}, nil
}

func serveMetrics(addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("metrics listener")
		}
	}()
}

func runGUI(c *cli.Context) error {
	s, err := newServices(c)
	if err != nil {
		return err
	}
	defer s.detector.Close()

	app := ui.CreateApp(ui.Deps{
		Config:    s.cfg,
		Detector:  s.detector,
		Processor: s.processor,
		Session:   s.session,
		Client:    s.client,
	})

	app.Run()
	return nil
}

func runHeadless(c *cli.Context) error {
	s, err := newServices(c)
	if err != nil {
		return err
	}
	defer s.detector.Close()

	s.client.OnStatus(func(status string) {
		log.Info().Str("status", status).Msg("server")
	})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = s.detector.Load(loadCtx)
	cancel()
	if err != nil {
		return errors.Wrap(err, "model load failed")
	}

	ended := make(chan struct{})
	cam := camera.NewController(s.cfg, s.processor, camera.Callbacks{
		OnActiveChange: func(active bool) {
			if !active {
				close(ended)
			}
		},
	})

	if _, err := cam.Enable(); err != nil {
		return err
	}
	defer cam.Disable()

	s.session.Start(ctx, s.cfg.GetUserName())

	select {
	case <-ctx.Done():
		log.Info().Msg("interrupted, ending session")
	case <-ended:
		log.Info().Msg("camera stopped, ending session")
	}

	endCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	resp := s.session.End(endCtx)
	if url := s.session.ReportURL(); url != "" {
		log.Info().Str("report", url).Int("points", resp.PointsAwarded).Msg("report ready")
	}
	s.session.Close()
	return nil
}
