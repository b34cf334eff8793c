// Package cmd holds the camnode subcommands that run without the HTTP
// server.
package cmd

import (
	"fmt"

	"github.com/smazurov/camnode/internal/backend"
	"github.com/smazurov/camnode/internal/config"
	"github.com/smazurov/camnode/internal/devices"
	"github.com/smazurov/camnode/internal/logging"
)

// openRegistry builds a registry from the [driver] table of configFile and
// enumerates it.
func openRegistry(configFile, backendName string) (*devices.Registry, config.DriverSettings, error) {
	settings, err := config.LoadDriverSettings(configFile)
	if err != nil {
		return nil, settings, err
	}
	if backendName != "" {
		settings.Backend = backendName
	}

	driver, err := backend.New(settings.Backend, settings.Driver)
	if err != nil {
		return nil, settings, fmt.Errorf("backend %q: %w", settings.Backend, err)
	}

	reg := devices.NewRegistry(settings.Registry, driver, devices.NopNotifier{})
	if err := reg.Initialize(); err != nil {
		return nil, settings, err
	}
	return reg, settings, nil
}

func initLogging(level string, json bool) {
	cfg := logging.Config{Level: level, Format: "text"}
	if json {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
}
