//go:build !linux

package main

import (
	"context"
	"log/slog"

	"github.com/smazurov/camnode/internal/devices"
)

func startHotplug(_ context.Context, _ *devices.Registry, logger *slog.Logger) {
	logger.Info("Hotplug monitoring is only available on Linux")
}
