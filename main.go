package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/camnode/cmd"
	"github.com/smazurov/camnode/internal/api"
	"github.com/smazurov/camnode/internal/backend"
	"github.com/smazurov/camnode/internal/capture"
	"github.com/smazurov/camnode/internal/config"
	"github.com/smazurov/camnode/internal/devices"
	"github.com/smazurov/camnode/internal/events"
	"github.com/smazurov/camnode/internal/frame"
	"github.com/smazurov/camnode/internal/host"
	"github.com/smazurov/camnode/internal/led"
	"github.com/smazurov/camnode/internal/logging"
	"github.com/smazurov/camnode/internal/metrics"
	"github.com/smazurov/camnode/internal/metrics/exporters"
	"github.com/smazurov/camnode/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Driver settings; the rest of [driver] is read by config.LoadDriverSettings
	Backend string `help:"Camera backend (sim, v4l2, gocv)" default:"" toml:"driver.backend" env:"DRIVER_BACKEND"`

	// Observability settings
	ObsPrometheusEnabled bool `help:"Serve Prometheus metrics at /metrics" default:"true" toml:"obs.prometheus_enabled" env:"OBS_PROMETHEUS_ENABLED"`
	ObsSSEEnabled        bool `help:"Publish per-stream metrics over SSE" default:"true" toml:"obs.sse_enabled" env:"OBS_SSE_ENABLED"`

	// Features
	FeaturesHotplug      bool `help:"Rescan cameras on video4linux hotplug events" default:"true" toml:"features.hotplug" env:"FEATURES_HOTPLUG"`
	FeaturesConfigReload bool `help:"Reload test modes when the config file changes" default:"true" toml:"features.config_reload" env:"FEATURES_CONFIG_RELOAD"`
	FeaturesIndicator    bool `help:"Light a board LED while any stream is capturing" default:"false" toml:"features.indicator" env:"FEATURES_INDICATOR"`

	// Indicator LED settings
	IndicatorName  string `help:"Indicator LED name" default:"" toml:"indicator.name" env:"INDICATOR_NAME"`
	IndicatorSysfs string `help:"Indicator LED directory under /sys/class/leds (skips board detection)" default:"" toml:"indicator.sysfs" env:"INDICATOR_SYSFS"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRegistry string `help:"Registry logging level" default:"info" toml:"logging.registry" env:"LOGGING_REGISTRY"`
	LoggingDevice   string `help:"Device logging level" default:"info" toml:"logging.device" env:"LOGGING_DEVICE"`
	LoggingCapture  string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingBackend  string `help:"Backend logging level" default:"info" toml:"logging.backend" env:"LOGGING_BACKEND"`
	LoggingHost     string `help:"Host logging level" default:"info" toml:"logging.host" env:"LOGGING_HOST"`
	LoggingAPI      string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		bootLogger := logging.GetLogger("main")
		// Flags set on the command line win over the config file.
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			bootLogger.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"registry": opts.LoggingRegistry,
				"device":   opts.LoggingDevice,
				"capture":  opts.LoggingCapture,
				"backend":  opts.LoggingBackend,
				"host":     opts.LoggingHost,
				"api":      opts.LoggingAPI,
			},
		})
		logger := logging.GetLogger("main")

		settings, err := config.LoadDriverSettings(opts.Config)
		if err != nil {
			logger.Error("Invalid driver configuration", "error", err)
			os.Exit(1)
		}
		if opts.Backend != "" {
			settings.Backend = opts.Backend
		}

		driver, err := backend.New(settings.Backend, settings.Driver)
		if err != nil {
			logger.Error("Failed to create camera backend", "backend", settings.Backend, "error", err)
			os.Exit(1)
		}

		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(events.LogEntryEvent{
				Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
				Level:      entry.Level,
				Module:     entry.Module,
				Message:    entry.Message,
				Attributes: entry.Attributes,
			})
		})

		regConfig := settings.Registry
		regConfig.DeviceOptions = append(regConfig.DeviceOptions,
			devices.WithMetricsFactory(func(uri, streamID string) capture.MetricsRecorder {
				return metrics.NewRecorder(uri, streamID)
			}),
			devices.WithStreamOptions(
				capture.WithPushPolicy(settings.PushPolicy),
				capture.WithTimestampSource(settings.Timestamp),
			),
		)
		registry := devices.NewRegistry(regConfig, driver, events.NewDeviceNotifier(eventBus))
		camHost := host.New(registry, eventBus)

		alloc := frame.DefaultAllocator()
		metrics.SetLiveBuffersFunc(alloc.Live)

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Host:         camHost,
			EventBus:     eventBus,
		}
		if opts.ObsPrometheusEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
		}
		server := api.NewServer(apiOpts)

		var sseExporter *exporters.SSEExporter
		if opts.ObsSSEEnabled {
			sseExporter = exporters.NewSSEExporter(eventBus)
		}

		var watcher *config.Watcher[config.DriverSettings]
		if opts.FeaturesConfigReload {
			watcher = config.NewConfigWatcher(opts.Config, config.LoadDriverSettings, logging.GetLogger("config"))
			watcher.OnReload(func(s config.DriverSettings) {
				registry.SetTestModes(s.Registry.TestModes)
				logger.Info("Test modes reloaded", "modes", len(s.Registry.TestModes))
			})
		}

		var indicator *led.Indicator
		if opts.FeaturesIndicator {
			ledLogger := logging.GetLogger("led")
			controller, name := led.New(led.Config{Name: opts.IndicatorName, Sysfs: opts.IndicatorSysfs}, ledLogger)
			indicator = led.NewIndicator(controller, name, eventBus, ledLogger)
		}

		notifier := systemd.NewNotifier()
		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			logger.Info("Starting camnode", "backend", driver.Name(), "prefix", regConfig.Prefix)
			if initErr := registry.Initialize(); initErr != nil {
				logger.Warn("Device enumeration failed", "error", initErr)
			}

			if sseExporter != nil {
				sseExporter.Start(ctx)
			}
			if indicator != nil {
				indicator.Start()
			}
			if watcher != nil {
				if startErr := watcher.Start(); startErr != nil {
					logger.Warn("Config watcher not started", "error", startErr)
				}
			}
			if opts.FeaturesHotplug {
				startHotplug(ctx, registry, logger)
			}

			go notifier.RunWatchdog(ctx)
			notifier.Ready(fmt.Sprintf("%d cameras on %s", len(registry.Records()), opts.Port))

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			notifier.Stopping()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			cancel()
			if watcher != nil {
				_ = watcher.Stop()
			}
			if sseExporter != nil {
				sseExporter.Stop()
			}

			// Stops every capture loop before the cameras are closed.
			camHost.Shutdown()
			if indicator != nil {
				indicator.Stop()
			}

			logging.SetLogCallback(nil)
			_ = eventBus.Close()
		})
	})

	cli.Root().Use = "camnode"
	cli.Root().Short = "Camera capture adapter with an HTTP API"
	cli.Root().AddCommand(cmd.CreateListCmd())
	cli.Root().AddCommand(cmd.CreateCaptureCmd())

	cli.Run()
}
