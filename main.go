package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/displaynode/cmd"
	"github.com/smazurov/displaynode/internal/api"
	"github.com/smazurov/displaynode/internal/config"
	"github.com/smazurov/displaynode/internal/display"
	"github.com/smazurov/displaynode/internal/events"
	"github.com/smazurov/displaynode/internal/logging"
	"github.com/smazurov/displaynode/internal/metrics"
	"github.com/smazurov/displaynode/internal/pipeline"
	"github.com/smazurov/displaynode/internal/systemd"
	"github.com/smazurov/displaynode/internal/updater"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port       string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`
	CORSOrigin string `help:"Allowed CORS origin" default:"*" toml:"server.cors_origin" env:"SERVER_CORS_ORIGIN"`

	// Display settings
	Board      string `help:"Board description file" short:"b" default:"board.toml" toml:"display.board" env:"DISPLAY_BOARD"`
	WatchBoard bool   `help:"Reapply board tunables when the file changes" default:"true" toml:"display.watch_board" env:"DISPLAY_WATCH_BOARD"`
	Simulate   bool   `help:"Run against simulated hardware" default:"false" toml:"display.simulate" env:"DISPLAY_SIMULATE"`
	MemDevice  string `help:"Physical memory device for register mapping" default:"/dev/mem" toml:"display.mem_device" env:"DISPLAY_MEM_DEVICE"`
	AutoPower  bool   `help:"Negotiate and power on connected pipes at startup" default:"true" toml:"display.auto_power" env:"DISPLAY_AUTO_POWER"`

	// Metrics settings
	MetricsEnabled bool `help:"Expose Prometheus metrics on /metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Update settings
	UpdateEnabled    bool   `help:"Enable self-update endpoints" default:"true" toml:"update.enabled" env:"UPDATE_ENABLED"`
	UpdateRepository string `help:"GitHub repository for releases" default:"smazurov/displaynode" toml:"update.repository" env:"UPDATE_REPOSITORY"`
	UpdatePrerelease bool   `help:"Include prereleases" default:"false" toml:"update.prerelease" env:"UPDATE_PRERELEASE"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingDisplay  string `help:"Display subsystem logging level" default:"info" toml:"logging.display" env:"LOGGING_DISPLAY"`
	LoggingPipeline string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingBackend  string `help:"Output back-end logging level" default:"info" toml:"logging.backend" env:"LOGGING_BACKEND"`
	LoggingLayer    string `help:"Compositor logging level" default:"info" toml:"logging.layer" env:"LOGGING_LAYER"`
	LoggingHotplug  string `help:"Hotplug logging level" default:"info" toml:"logging.hotplug" env:"LOGGING_HOTPLUG"`
	LoggingIRQ      string `help:"Interrupt logging level" default:"info" toml:"logging.irq" env:"LOGGING_IRQ"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingUpdater  string `help:"Updater logging level" default:"info" toml:"logging.updater" env:"LOGGING_UPDATER"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"display":  opts.LoggingDisplay,
				"pipeline": opts.LoggingPipeline,
				"backend":  opts.LoggingBackend,
				"layer":    opts.LoggingLayer,
				"hotplug":  opts.LoggingHotplug,
				"irq":      opts.LoggingIRQ,
				"api":      opts.LoggingAPI,
				"updater":  opts.LoggingUpdater,
			},
		})
		logger := logging.GetLogger("main")

		// Hardware is touched only by the server command, never by subcommands.
		var (
			subsystem *display.Subsystem
			server    *api.Server
			watcher   *config.Watcher[*config.Board]
		)
		notifier := systemd.NewNotifier(logging.GetLogger("systemd"))
		cancel := context.CancelFunc(func() {})
		done := make(chan struct{})

		hooks.OnStart(func() {
			eventBus := events.New()
			logging.OnEntry(func(e logging.Entry) {
				eventBus.Publish(events.LogEntryEvent{
					Timestamp:  e.Timestamp.Format(time.RFC3339Nano),
					Level:      e.Level,
					Module:     e.Module,
					Message:    e.Message,
					Attributes: e.Attributes,
				})
			})

			board, boardFromFile, err := loadBoard(opts, logger)
			if err != nil {
				logger.Error("Failed to load board description", "path", opts.Board, "error", err)
				os.Exit(1)
			}

			subsystem, err = display.New(display.Options{
				Board:     board,
				Simulate:  opts.Simulate,
				MemDevice: opts.MemDevice,
				Bus:       eventBus,
			})
			if err != nil {
				logger.Error("Failed to initialize display subsystem", "error", err)
				os.Exit(1)
			}

			if boardFromFile && opts.WatchBoard {
				watcher = config.NewConfigWatcher(opts.Board, config.LoadBoard, logging.GetLogger("config"))
				watcher.OnReload(func(b *config.Board) {
					notifier.Reloading()
					subsystem.ApplyTunables(b)
					notifier.Ready()
				})
				if startErr := watcher.Start(); startErr != nil {
					logger.Warn("Failed to watch board file", "error", startErr)
				}
			}

			apiOpts := &api.Options{
				AuthUsername: opts.AuthUsername,
				AuthPassword: opts.AuthPassword,
				CORSOrigin:   opts.CORSOrigin,
				Display:      subsystem,
				EventBus:     eventBus,
				Sim:          subsystem.Sim(),
			}
			if opts.MetricsEnabled {
				apiOpts.PrometheusHandler = metrics.Handler()
			}
			if opts.UpdateEnabled {
				svc, updErr := updater.NewService(updater.Options{
					Repository: opts.UpdateRepository,
					Prerelease: opts.UpdatePrerelease,
				})
				if updErr != nil {
					logger.Warn("Self-update unavailable", "error", updErr)
				} else {
					apiOpts.UpdateService = svc
				}
			}
			server = api.NewServer(apiOpts)

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				if runErr := subsystem.Run(ctx); runErr != nil && !errors.Is(runErr, context.Canceled) {
					logger.Error("Display subsystem stopped", "error", runErr)
				}
			}()
			go notifier.RunWatchdog(ctx)

			if opts.AutoPower {
				powerConnected(ctx, subsystem, logger)
				subsystem.OnHotplug(func(_ int, connected bool) {
					if connected {
						powerConnected(ctx, subsystem, logger)
					}
				})
			}

			notifier.Status(board.Name)
			notifier.Ready()

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()
			if server != nil {
				if stopErr := server.Stop(); stopErr != nil {
					logger.Error("Error stopping HTTP server", "error", stopErr)
				}
			}
			if watcher != nil {
				if stopErr := watcher.Stop(); stopErr != nil {
					logger.Warn("Error stopping board watcher", "error", stopErr)
				}
			}
			if subsystem == nil {
				return
			}

			cancel()
			<-done
			if closeErr := subsystem.Close(); closeErr != nil {
				logger.Error("Error shutting down display pipes", "error", closeErr)
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateModesCmd())
	cli.Root().AddCommand(cmd.CreateEDIDCmd())
	cli.Root().AddCommand(cmd.CreateBoardCmd())

	cli.Run()
}

// loadBoard reads the board file. Simulation falls back to the built-in
// board when the file does not exist.
func loadBoard(opts *Options, logger *slog.Logger) (*config.Board, bool, error) {
	b, err := config.LoadBoard(opts.Board)
	if err == nil {
		return b, true, nil
	}
	if opts.Simulate && errors.Is(err, os.ErrNotExist) {
		logger.Info("Board file not found, using the simulated default board", "path", opts.Board)
		return config.DefaultBoard(), false, nil
	}
	return nil, false, err
}

// powerConnected brings up every pipe that has a sink attached. Failures are
// logged and leave the pipe off.
func powerConnected(ctx context.Context, s *display.Subsystem, logger *slog.Logger) {
	for _, p := range s.EnumeratePipes() {
		if !p.Connected || p.State != pipeline.StateOff {
			continue
		}
		m, err := s.NegotiateAndApply(p.Index)
		if err != nil {
			logger.Warn("Startup negotiation failed", "pipe", p.Index, "error", err)
			continue
		}
		if err := s.SetPower(ctx, p.Index, pipeline.TargetOn); err != nil {
			logger.Warn("Startup power on failed", "pipe", p.Index, "error", err)
			continue
		}
		logger.Info("Pipe up", "pipe", p.Index, "name", p.Name, "mode", m.String())
	}
}
