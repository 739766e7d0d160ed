package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"codeberg.org/mutker/profilectl/internal/config"
	"codeberg.org/mutker/profilectl/internal/daemon"
	"codeberg.org/mutker/profilectl/internal/engine"
	"codeberg.org/mutker/profilectl/internal/errors"
	"codeberg.org/mutker/profilectl/internal/exporter"
	"codeberg.org/mutker/profilectl/internal/gpu"
	"codeberg.org/mutker/profilectl/internal/logger"
	"codeberg.org/mutker/profilectl/internal/metrics"
	"codeberg.org/mutker/profilectl/internal/pid"
	"codeberg.org/mutker/profilectl/internal/profile"
	"codeberg.org/mutker/profilectl/internal/sensor"
	"codeberg.org/mutker/profilectl/internal/telemetry"
	"codeberg.org/mutker/profilectl/internal/zone"
)

const (
	exitOK         = 0
	exitFatal      = 1
	exitConfig     = 2
	exitPermission = 3
	exitActuation  = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return exitConfig
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return exitConfig
	}
	logger.Debug().Msg("Config loaded")

	catalog, err := zone.NewCatalog(cfg.Zones)
	if err != nil {
		return fail(err, "Invalid zone table")
	}

	sink, err := openSink(cfg)
	if err != nil {
		return fail(err, "Platform profile not usable")
	}

	pidFile := pid.New(cfg.PIDFile)
	if err := pidFile.Acquire(); err != nil {
		return fail(err, "Failed to acquire pid file")
	}
	defer func() {
		if err := pidFile.Release(); err != nil {
			logger.Warn().Err(err).Msg("Failed to remove pid file")
		}
	}()

	source := openSources(cfg)
	defer func() {
		if err := source.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close sensor sources")
		}
	}()

	strategy, err := cfg.Strategy()
	if err != nil {
		return fail(err, "Invalid cadence")
	}
	eng, err := engine.New(catalog, cfg.Policy(), strategy)
	if err != nil {
		return fail(err, "Failed to create engine")
	}

	collector, err := metrics.NewService(cfg.Metrics, logger.New("metrics"))
	if err != nil {
		return fail(err, "Failed to open status history")
	}
	defer func() {
		if err := collector.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close status history")
		}
	}()

	reporter, err := telemetry.NewReporter(cfg.LogEvery, logger.New("telemetry"))
	if err != nil {
		return fail(err, "Failed to create reporter")
	}
	reporter.AddSink(telemetry.LogPublisher{Log: logger.New("status")})
	if cfg.Metrics.Enabled {
		reporter.AddSink(telemetry.HistoryPublisher{Collector: collector})
	}

	var exp *exporter.Exporter
	if cfg.Exporter.Enabled {
		exp = exporter.New(logger.New("exporter"))
		reporter.AddObserver(exp)
	}

	d, err := daemon.New(daemon.Options{
		Catalog:      catalog,
		Source:       source,
		Engine:       eng,
		Actuator:     profile.NewActuator(sink, logger.New("profile")),
		Reporter:     reporter,
		Log:          logger.New("daemon"),
		LockProfile:  profile.Profile(cfg.LockProfile),
		LockDuration: cfg.LockDuration,
	})
	if err != nil {
		return fail(err, "Failed to create daemon")
	}

	if err := d.Start(); err != nil {
		fail(err, "Failed to assert failsafe profile")
		return exitPermission
	}

	logger.Info().
		Dur("interval", cfg.Interval).
		Str("cadence", cfg.Cadence.Mode).
		Bool("monitor", cfg.Monitor).
		Int("zones", catalog.Len()).
		Msg("Started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := supervise(ctx, func(ctx context.Context) error {
		return d.Run(ctx, cfg.Interval)
	}, exp, cfg.Exporter.Listen); err != nil {
		return fail(err, "Stopped")
	}

	logger.Info().Msg("Received termination signal, exiting")

	return exitOK
}

// supervise runs the control loop and, when set, the exporter. Only the
// loop's error ends the group.
func supervise(ctx context.Context, loop func(context.Context) error, exp *exporter.Exporter, listen string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop(gctx)
	})
	if exp != nil {
		g.Go(func() error {
			serveExporter(gctx, exp, listen)
			return nil
		})
	}

	return g.Wait()
}

// serveExporter runs the status endpoint until ctx is done. Its failure is
// logged and never stops the control loop.
func serveExporter(ctx context.Context, exp *exporter.Exporter, listen string) {
	if err := exp.Run(ctx, listen); err != nil {
		logger.Warn().Err(err).Str("listen", listen).Msg("Exporter stopped, control loop continues")
	}
}

// openSink returns the profile sink, checking the node up front unless
// running in monitor mode.
func openSink(cfg *config.Config) (profile.Sink, error) {
	if cfg.Monitor {
		logger.Info().Msg("Monitor mode activated, the platform profile is left untouched")
		return profile.Monitor{Log: logger.New("monitor")}, nil
	}

	sysfs := profile.NewSysfs(cfg.ProfilePath)
	if err := sysfs.Supports(profile.Balanced, profile.Performance); err != nil {
		return nil, err
	}
	if err := sysfs.CheckWritable(); err != nil {
		return nil, err
	}

	return sysfs, nil
}

// openSources always reads hwmon. NVML is optional and only warns when
// unavailable.
func openSources(cfg *config.Config) sensor.Multi {
	sources := sensor.Multi{sensor.NewHwmon(cfg.HwmonPath, cfg.ReadTimeout)}

	if cfg.NVML {
		src, err := gpu.New(logger.New("gpu"))
		if err != nil {
			logger.Warn().Err(err).Msg("NVML unavailable, continuing with hwmon only")
		} else {
			sources = append(sources, src)
		}
	}

	return sources
}

func fail(err error, msg string) int {
	var coded errors.Error
	if errors.As(err, &coded) {
		logger.ErrorWithCode(coded).Msg(msg)
	} else {
		logger.Error().Err(err).Msg(msg)
	}

	return exitCode(err)
}

func exitCode(err error) int {
	switch errors.CodeOf(err) {
	case errors.ErrActuation:
		return exitActuation
	case errors.ErrPermission, profile.ErrUnsupportedProfile, profile.ErrReadChoices, profile.ErrReadProfile:
		return exitPermission
	case errors.ErrInvalidConfig, errors.ErrInvalidZone, errors.ErrInvalidCadence, errors.ErrInvalidInterval,
		engine.ErrInvalidPolicy, engine.ErrInvalidMode:
		return exitConfig
	}

	return exitFatal
}
