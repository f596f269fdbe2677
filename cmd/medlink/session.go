package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/medlink/internal/logging"
	"github.com/srg/medlink/internal/platform"
	"github.com/srg/medlink/internal/platform/goble"
	"github.com/srg/medlink/internal/platform/sim"
	"github.com/srg/medlink/pkg/config"
	"github.com/srg/medlink/pkg/manager"
)

// Simulated sensor addresses served by --simulate.
const (
	simHeartRateAddress = "c0:ff:ee:00:00:01"
	simOximeterAddress  = "c0:ff:ee:00:00:02"
	simScaleAddress     = "c0:ff:ee:00:00:03"
)

// session is everything one command invocation needs.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	log     logging.Sink // command-level lines, tagged with the command name
	manager *manager.Manager
	events  *eventStream
	sim     *sim.Radio
}

// loadConfig reads --config when given and applies the global flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if simulate, _ := cmd.Flags().GetBool("simulate"); simulate {
		cfg.Platform = config.PlatformSim
	}
	return cfg, cfg.Validate()
}

func newSimRadio() *sim.Radio {
	return sim.New(
		sim.WithAutoComplete(),
		sim.WithPeripherals(
			sim.HeartRateMonitor(simHeartRateAddress),
			sim.PulseOximeter(simOximeterAddress),
			sim.WeightScale(simScaleAddress),
		),
	)
}

// openSession loads the configuration, opens the configured radio and
// subscribes an event stream to the manager. Callers must close it.
func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, "verbose", cfg)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger, log: logging.NewLogrusSink(logger)}
	open := func() (platform.Radio, error) { return goble.New(logger), nil }
	if cfg.Platform == config.PlatformSim {
		s.sim = newSimRadio()
		open = func() (platform.Radio, error) { return s.sim, nil }
	}

	logger.WithField("platform", cfg.Platform).Debug("Opening Bluetooth adapter")
	m, err := manager.New(ctx, open, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.manager = m

	s.events = newEventStream(cfg.EventBuffer, logger)
	if _, err := m.Subscribe(s.events); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}
	return s, nil
}

// feed drives the simulated sensors until ctx ends. It is a no-op on real hardware.
func (s *session) feed(ctx context.Context, interval time.Duration) {
	if s.sim == nil {
		return
	}
	go s.sim.Feed(ctx, interval)
}

func (s *session) Close() error {
	_, _ = s.manager.Unsubscribe(s.events)
	s.events.Close()
	return s.manager.Close()
}
