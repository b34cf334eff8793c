//go:build linux

package main

import (
	"context"
	"log/slog"

	"github.com/smazurov/camnode/internal/devices"
	"github.com/smazurov/camnode/pkg/linuxav/hotplug"
)

// startHotplug rescans the registry whenever a video4linux node appears or
// disappears.
func startHotplug(ctx context.Context, registry *devices.Registry, logger *slog.Logger) {
	monitor, err := hotplug.NewMonitor()
	if err != nil {
		logger.Warn("Hotplug monitoring unavailable", "error", err)
		return
	}
	monitor.AddSubsystemFilter(hotplug.SubsystemVideo4Linux)

	ch := make(chan hotplug.Event, 16)
	go func() {
		defer monitor.Close()
		if runErr := monitor.Run(ctx, ch); runErr != nil && ctx.Err() == nil {
			logger.Warn("Hotplug monitor stopped", "error", runErr)
		}
	}()

	go func() {
		for ev := range ch {
			if !ev.AffectsCameras() {
				continue
			}
			logger.Info("Camera hotplug", "action", ev.Action, "device", ev.DevName)
			if scanErr := registry.Rescan(); scanErr != nil {
				logger.Warn("Rescan failed", "error", scanErr)
			}
		}
	}()
}
