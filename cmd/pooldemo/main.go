// Command pooldemo drives frame and session pools with a concurrent workload
// and prints the resulting pool statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/coachpo/objpool/config"
	"github.com/coachpo/objpool/internal/observability"
	"github.com/coachpo/objpool/internal/pool"
	"github.com/coachpo/objpool/internal/workload"
	"github.com/coachpo/objpool/lib/telemetry"
)

const (
	defaultConfigPath        = "config/pools.yaml"
	demoLoggerPrefix         = "pooldemo "
	framesPoolName           = "frames"
	sessionsPoolName         = "sessions"
	frameBufferSize          = 4096
	sessionDialAttempts      = 3
	sessionDialTimeout       = 5 * time.Second
	meterName                = "github.com/coachpo/objpool"
	poolShutdownTimeout      = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

type demoFlags struct {
	configPath string
	workers    int
	iterations int
	rate       float64
	wsURL      string
}

func main() {
	flags := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newDemoLogger()

	cfg, loadedFromFile, err := config.LoadOrDefault(resolveConfigPath(flags.configPath))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, pools=%d", cfg.Environment, len(cfg.Pools))

	zapLogger, err := observability.NewZapLogger(observability.ZapConfig{
		Level:       cfg.Log.Level,
		Development: cfg.Environment == config.EnvDev,
		Encoding:    cfg.Log.Encoding,
	})
	if err != nil {
		logger.Fatalf("initialise logger: %v", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	observability.SetLogger(zapLogger)

	providers, shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialise telemetry: %v", err)
	}
	if cfg.Telemetry.OTLPEndpoint != "" {
		logger.Printf("telemetry initialised: endpoint=%s, service=%s", cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}

	mgr := pool.NewManager()
	frames, sessions, err := registerPools(ctx, mgr, cfg, sessionDialer(flags.wsURL), providers.Meter(meterName), zapLogger)
	if err != nil {
		logger.Fatalf("initialise pools: %v", err)
	}

	runCfg := workload.DefaultRunnerConfig()
	runCfg.Workers = flags.workers
	runCfg.Iterations = flags.iterations
	if flags.rate > 0 {
		runCfg.Rate = rate.Limit(flags.rate)
	}
	if err := runWorkloads(ctx, logger, frames, sessions, runCfg, zapLogger); err != nil {
		logger.Printf("workload: %v", err)
	}

	if snapshot, err := mgr.SnapshotJSON(); err != nil {
		logger.Printf("snapshot: %v", err)
	} else {
		fmt.Println(string(snapshot))
	}

	shutdownStep(logger, "shutting down pools", poolShutdownTimeout, mgr.Shutdown)
	shutdownStep(logger, "shutting down telemetry", telemetryShutdownTimeout, shutdownTelemetry)
	logger.Print("pooldemo finished")
}

func parseFlags() demoFlags {
	var f demoFlags
	flag.StringVar(&f.configPath, "config", "", fmt.Sprintf("Path to pool configuration file (default: %s)", defaultConfigPath))
	flag.IntVar(&f.workers, "workers", 4, "Concurrent workers per pool")
	flag.IntVar(&f.iterations, "iterations", 250, "Acquire/release cycles per worker")
	flag.Float64Var(&f.rate, "rate", 0, "Acquisitions per second per pool (0 = unlimited)")
	flag.StringVar(&f.wsURL, "ws-url", "", "Websocket endpoint backing pooled sessions (default: simulated dialer)")
	flag.Parse()
	return f
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newDemoLogger() *log.Logger {
	return log.New(os.Stdout, demoLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func resolveConfigPath(flagValue string) string {
	if path := strings.TrimSpace(flagValue); path != "" {
		return path
	}
	if path := strings.TrimSpace(os.Getenv("OBJPOOL_CONFIG")); path != "" {
		return path
	}
	return defaultConfigPath
}

// registerPools registers the frame and session pools with mgr using the
// configured options for each name.
func registerPools(
	ctx context.Context,
	mgr *pool.Manager,
	cfg config.Settings,
	dial workload.Dialer,
	meter metric.Meter,
	logger observability.Logger,
) (*pool.Owner[*workload.Frame], *pool.Owner[*workload.Session], error) {
	frames, err := pool.Register(mgr, framesPoolName, workload.NewFrameHooks(frameBufferSize), pool.OwnerConfig[*workload.Frame]{
		Options:  cfg.Pool(framesPoolName).Options(),
		IsActive: (*workload.Frame).Active,
		Logger:   logger,
		Meter:    meter,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("register %s: %w", framesPoolName, err)
	}

	sessionHooks := workload.NewSessionHooks(ctx, dial, sessionDialAttempts)
	sessions, err := pool.Register(mgr, sessionsPoolName, sessionHooks, pool.OwnerConfig[*workload.Session]{
		Options:  cfg.Pool(sessionsPoolName).Options(),
		IsActive: (*workload.Session).Active,
		Logger:   logger,
		Meter:    meter,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("register %s: %w", sessionsPoolName, err)
	}
	return frames, sessions, nil
}

// sessionDialer opens websocket sessions against url, or simulates them when
// url is empty.
func sessionDialer(url string) workload.Dialer {
	if url = strings.TrimSpace(url); url != "" {
		return workload.WebsocketDialer(url, sessionDialTimeout)
	}
	return simulatedDialer()
}

// simulatedDialer fails every fifth dial so the retry path is exercised.
func simulatedDialer() workload.Dialer {
	var dials atomic.Int64
	return func(ctx context.Context) (workload.Link, error) {
		if err := ctx.Err(); err != nil {
			return workload.Link{}, err
		}
		n := dials.Add(1)
		if n%5 == 0 {
			return workload.Link{}, fmt.Errorf("dial %d: connection reset", n)
		}
		return workload.Link{Remote: fmt.Sprintf("127.0.0.1:%d", 9000+n%16)}, nil
	}
}

func runWorkloads(
	ctx context.Context,
	logger *log.Logger,
	frames *pool.Owner[*workload.Frame],
	sessions *pool.Owner[*workload.Session],
	cfg workload.RunnerConfig,
	poolLogger observability.Logger,
) error {
	frameRunner, err := workload.NewRunner[*workload.Frame](frames, func(f *workload.Frame) {
		f.Data = append(f.Data, f.ID[:]...)
	}, cfg, poolLogger)
	if err != nil {
		return err
	}
	sessionRunner, err := workload.NewRunner[*workload.Session](sessions, func(s *workload.Session) {
		if err := s.Send(ctx, []byte(s.ID)); err != nil {
			poolLogger.Error("session send failed",
				observability.F("session", s.ID),
				observability.F("error", err))
		}
	}, cfg, poolLogger)
	if err != nil {
		return err
	}

	var (
		wg         conc.WaitGroup
		frameErr   error
		sessionErr error
	)
	wg.Go(func() {
		report, err := frameRunner.Run(ctx)
		frameErr = err
		logger.Printf("frames: acquired=%d released=%d resets=%d failures=%d", report.Acquired, report.Released, report.Resets, report.Failures)
	})
	wg.Go(func() {
		report, err := sessionRunner.Run(ctx)
		sessionErr = err
		logger.Printf("sessions: acquired=%d released=%d resets=%d failures=%d", report.Acquired, report.Released, report.Resets, report.Failures)
	})
	wg.Wait()

	if frameErr != nil {
		return frameErr
	}
	return sessionErr
}

func shutdownStep(logger *log.Logger, name string, timeout time.Duration, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()
	if err := fn(ctx); err != nil {
		logger.Printf("%s: %v", name, err)
		return
	}
	logger.Printf("%s completed in %v", name, time.Since(start))
}
