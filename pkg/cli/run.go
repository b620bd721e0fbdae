package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/facegreet/pkg/usecase/greeting"
	"github.com/m-mizutani/facegreet/pkg/usecase/identity"
	"github.com/m-mizutani/facegreet/pkg/usecase/match"
	"github.com/m-mizutani/facegreet/pkg/usecase/presence"
	"github.com/m-mizutani/facegreet/pkg/usecase/recognition"
	"github.com/m-mizutani/facegreet/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func runCommand() *cli.Command {
	var (
		cfg         config
		src         sourceConfig
		sessionPath string
		distance    float64
		confidence  int64
		cooldown    time.Duration
		reset       time.Duration
		interval    time.Duration
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "YAML file with session settings",
			Sources:     cli.EnvVars("FACEGREET_CONFIG"),
			Destination: &sessionPath,
		},
		&cli.FloatFlag{
			Name:        "distance-threshold",
			Usage:       "Maximum face distance to accept a match",
			Value:       match.DefaultDistanceThreshold,
			Sources:     cli.EnvVars("FACEGREET_DISTANCE_THRESHOLD"),
			Destination: &distance,
		},
		&cli.IntFlag{
			Name:        "confidence-threshold",
			Usage:       "Minimum confidence percent to accept a match",
			Value:       match.DefaultConfidenceThreshold,
			Sources:     cli.EnvVars("FACEGREET_CONFIDENCE_THRESHOLD"),
			Destination: &confidence,
		},
		&cli.DurationFlag{
			Name:        "cooldown",
			Usage:       "Minimum time between two greetings of the same person",
			Value:       greeting.DefaultCooldown,
			Sources:     cli.EnvVars("FACEGREET_COOLDOWN"),
			Destination: &cooldown,
		},
		&cli.DurationFlag{
			Name:        "out-of-frame-reset",
			Usage:       "Absence after which a returning person is greeted again",
			Value:       greeting.DefaultOutOfFrameReset,
			Sources:     cli.EnvVars("FACEGREET_OUT_OF_FRAME_RESET"),
			Destination: &reset,
		},
		&cli.DurationFlag{
			Name:        "frame-interval",
			Usage:       "Interval between two frames",
			Value:       recognition.DefaultFrameInterval,
			Sources:     cli.EnvVars("FACEGREET_FRAME_INTERVAL"),
			Destination: &interval,
		},
	}
	flags = append(flags, globalFlags(&cfg)...)
	flags = append(flags, greetingFlags(&cfg)...)
	flags = append(flags, detectorFlags(&cfg)...)
	flags = append(flags, sourceFlags(&src)...)

	return &cli.Command{
		Name:  "run",
		Usage: "Recognize faces from the camera snapshot and greet people",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Session settings: defaults < config file < stored settings < flags
			settings := defaultRunSettings()
			if sessionPath != "" {
				file, err := loadSessionFile(sessionPath)
				if err != nil {
					return err
				}
				file.apply(&settings, &cfg, c.IsSet)
			}

			// Initialize dependencies
			repo, closeRepo, err := cfg.newRepository(ctx)
			if err != nil {
				return err
			}
			defer closeRepo()

			policy, err := identity.New(repo).LoadPolicy(ctx, settings.policy)
			if err != nil {
				return goerr.Wrap(err, "failed to load stored thresholds")
			}
			settings.policy = policy

			if c.IsSet("distance-threshold") {
				settings.policy.DistanceThreshold = distance
			}
			if c.IsSet("confidence-threshold") {
				settings.policy.ConfidenceThreshold = int(confidence)
			}
			if c.IsSet("cooldown") {
				settings.cooldown = cooldown
			}
			if c.IsSet("out-of-frame-reset") {
				settings.outOfFrameReset = reset
			}
			if c.IsSet("frame-interval") {
				settings.frameInterval = interval
			}

			detector, err := cfg.newDetector()
			if err != nil {
				return err
			}
			defer detector.Close()

			source, err := src.newFrameSource(ctx)
			if err != nil {
				return err
			}

			recorder, err := src.newEventRecorder(ctx)
			if err != nil {
				return err
			}

			player, closePlayer := cfg.newPlayer(ctx)
			defer closePlayer()

			gallery := match.NewGallery(repo)
			cache, err := cfg.newCache(ctx, repo, greeting.WithGallery(gallery))
			if err != nil {
				return err
			}

			queueOpts := []greeting.QueueOption{greeting.WithItemDelay(settings.itemDelay)}
			sessionOpts := []recognition.Option{
				recognition.WithFrameSource(source),
				recognition.WithPolicy(settings.policy),
				recognition.WithFrameInterval(settings.frameInterval),
			}
			if recorder != nil {
				recorder.Start(ctx)
				defer recorder.Close()
				queueOpts = append(queueOpts, greeting.WithEventRecorder(recorder))
				sessionOpts = append(sessionOpts, recognition.WithEventRecorder(recorder))
			}

			queue := greeting.NewQueue(cache, player, queueOpts...)
			scheduler := greeting.NewScheduler(presence.New(), queue,
				greeting.WithCooldown(settings.cooldown),
				greeting.WithOutOfFrameReset(settings.outOfFrameReset))
			session := recognition.New(detector, gallery, scheduler, sessionOpts...)

			logging.From(ctx).Info("starting session",
				"store", cfg.store,
				"tts", cfg.ttsProvider,
				"cooldown", settings.cooldown,
				"out_of_frame_reset", settings.outOfFrameReset)

			queue.Start(ctx)
			err = session.Run(ctx)
			stop()
			queue.Wait()

			if pending := queue.Pending(); len(pending) > 0 {
				names := make([]string, len(pending))
				for i, item := range pending {
					names[i] = item.Name
				}
				logging.From(ctx).Info("greetings dropped at shutdown", "count", len(pending), "names", names)
			}

			if err != nil {
				return goerr.Wrap(err, "session failed")
			}
			return nil
		},
	}
}
