package main

import (
	"context"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/medlink/internal/bledb"
	"github.com/srg/medlink/internal/bus"
	"github.com/srg/medlink/internal/decoder"
	"github.com/srg/medlink/internal/device"
	"github.com/srg/medlink/internal/gatt"
	"github.com/srg/medlink/internal/logging"
	"github.com/srg/medlink/internal/platform"
)

var watchCmd = &cobra.Command{
	Use:   "watch <address> [characteristic...]",
	Short: "Connect to a sensor and stream decoded readings",
	Long: `Connect to a sensor, discover its services, enable notifications and
print every decoded reading until --duration expires or Ctrl+C is pressed.

Characteristics can be given as UUIDs or as reading kinds (heart_rate,
pulse_oximetry, battery, temperature, blood_pressure, weight, spot_check).
Without any, every characteristic that supports notifications is watched.`,
	Example: `  medlink watch --simulate c0:ff:ee:00:00:01
  medlink watch AA:BB:CC:DD:EE:FF heart_rate --format json
  medlink watch AA:BB:CC:DD:EE:FF 2a37 --raw 4096`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

var (
	watchFormat   string
	watchDuration time.Duration
	watchRead     []string
	watchRaw      int
	watchFeed     time.Duration
)

func init() {
	watchCmd.Flags().StringVarP(&watchFormat, "format", "f", "", "Output format (table, json, csv)")
	watchCmd.Flags().DurationVarP(&watchDuration, "duration", "d", 0, "Stop after this long (0 streams until Ctrl+C)")
	watchCmd.Flags().StringSliceVar(&watchRead, "read", nil, "Characteristics to read once after discovery")
	watchCmd.Flags().IntVar(&watchRaw, "raw", 0, "Keep the last N raw payload bytes and hex-dump them on exit")
	watchCmd.Flags().DurationVar(&watchFeed, "feed-interval", time.Second, "Reading interval of simulated sensors")
}

// watchTarget is a characteristic the command streams or reads.
type watchTarget struct {
	service string
	char    string
}

func runWatch(cmd *cobra.Command, args []string) error {
	address := device.NormalizeAddress(args[0])
	if address == "" {
		return fmt.Errorf("device address is required")
	}
	filter := make([]string, 0, len(args)-1)
	for _, id := range args[1:] {
		filter = append(filter, decoder.Resolve(id))
	}
	if watchRaw < 0 {
		return fmt.Errorf("--raw must not be negative")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format := watchFormat
	if format == "" {
		format = cfg.OutputFormat
	}
	out, err := newPrinter(cmd, format)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := withInterrupt(cmd.Context(), cmd.ErrOrStderr(), "watch")
	defer cancel()
	if watchDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, watchDuration)
		defer stop()
	}

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	mc, err := connectAndDiscover(ctx, s, out, address)
	if err != nil {
		return err
	}
	defer func() {
		if err := mc.Disconnect(); err != nil {
			s.logger.WithError(err).Debug("Disconnect on exit failed")
		}
	}()

	streamed := notifiable(mc.Services(), filter)
	if len(streamed) == 0 {
		return fmt.Errorf("%w: %s exposes nothing to watch", ErrNoServices, address)
	}
	for _, t := range streamed {
		if err := mc.SetNotification(t.service, t.char, true); err != nil {
			return fmt.Errorf("failed to enable notifications on %s: %w", bledb.LookupOr(t.char, t.char), err)
		}
		out.status("Watching %s", bledb.LookupOr(t.char, t.char))
	}
	for _, t := range readable(mc.Services(), watchRead) {
		if err := mc.Read(t.service, t.char); err != nil {
			s.logger.WithError(err).WithField("characteristic", t.char).Warn("Read request failed")
		}
	}
	s.feed(ctx, watchFeed)

	var capture *rawCapture
	if watchRaw > 0 {
		capture = newRawCapture(watchRaw)
	}
	logging.Logf(s.log, logging.SeverityInfo, "watch", "Streaming %d characteristics from %s", len(streamed), address)
	err = streamReadings(ctx, s, newReadingWriter(out), address, capture)
	if errors.Is(err, ErrConnectionLost) {
		logging.Logf(s.log, logging.SeverityWarning, "watch", "%s disconnected while streaming", address)
	}
	if capture != nil {
		if dumpErr := capture.Dump(cmd.ErrOrStderr()); dumpErr != nil {
			s.logger.WithError(dumpErr).Warn("Failed to dump raw capture")
		}
	}
	return err
}

// connectAndDiscover connects to address and waits for its services.
func connectAndDiscover(ctx context.Context, s *session, out *printer, address string) (*gatt.Machine, error) {
	out.status("Connecting to %s...", address)
	mc, err := s.manager.Connect(address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	if mc.State() != device.Connected {
		if err := s.events.waitConnection(ctx, address, device.Connected, s.cfg.DeviceTimeout); err != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
		}
	}

	// Discovery only starts on its own for bonded sensors unless configured
	// otherwise.
	if mc.Device().BondState() != device.Bonded && !s.cfg.DiscoverUnbonded {
		if err := mc.DiscoverServices(); err != nil {
			return nil, fmt.Errorf("failed to discover services: %w", err)
		}
	}
	result, err := s.events.waitServices(ctx, address, s.cfg.DeviceTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to discover services: %w", err)
	}
	out.status("Discovered %d services", len(result.Services))
	return mc, nil
}

// notifiable picks the characteristics to stream. An empty filter selects
// every characteristic that can notify or indicate.
func notifiable(services []platform.Service, filter []string) []watchTarget {
	var targets []watchTarget
	for _, svc := range services {
		for _, c := range svc.Characteristics {
			if c.Properties&(platform.PropNotify|platform.PropIndicate) == 0 {
				continue
			}
			if len(filter) > 0 && !contains(filter, bledb.NormalizeUUID(c.UUID)) {
				continue
			}
			targets = append(targets, watchTarget{service: bledb.NormalizeUUID(svc.UUID), char: bledb.NormalizeUUID(c.UUID)})
		}
	}
	return targets
}

func readable(services []platform.Service, ids []string) []watchTarget {
	if len(ids) == 0 {
		return nil
	}
	wanted := make([]string, len(ids))
	for i, id := range ids {
		wanted[i] = decoder.Resolve(id)
	}

	var targets []watchTarget
	for _, svc := range services {
		for _, c := range svc.Characteristics {
			if c.Properties&platform.PropRead != 0 && contains(wanted, bledb.NormalizeUUID(c.UUID)) {
				targets = append(targets, watchTarget{service: bledb.NormalizeUUID(svc.UUID), char: bledb.NormalizeUUID(c.UUID)})
			}
		}
	}
	return targets
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// streamReadings prints readings of address until ctx ends. Losing the
// connection ends the stream with ErrConnectionLost.
func streamReadings(ctx context.Context, s *session, w *readingWriter, address string, capture *rawCapture) error {
	defer w.Flush()
	for {
		ev, ok := s.events.next(ctx, time.Time{})
		if !ok {
			return nil
		}
		switch e := ev.(type) {
		case bus.CharacteristicValue:
			if e.Device.Address() != address {
				continue
			}
			if capture != nil {
				_, _ = capture.Write(e.Value)
			}
			if err := w.Write(e); err != nil {
				return err
			}
		case bus.ConnectionStateChanged:
			if e.Transport == bus.TransportGatt && e.Device.Address() == address && e.State == device.Disconnected {
				return ErrConnectionLost
			}
		case bus.PairingEvent:
			if e.Requested {
				w.out.status("Pairing requested by %s (%s); confirm it in the system dialog", e.Device, e.Variant)
			}
		}
	}
}

// readingWriter renders one reading per line in the selected format.
type readingWriter struct {
	out     *printer
	csv     *csv.Writer
	json    *json.Encoder
	started bool
}

// readingRecord is the JSON and CSV shape of one reading.
type readingRecord struct {
	Time           time.Time       `json:"time"`
	Device         string          `json:"device"`
	Service        string          `json:"service"`
	Characteristic string          `json:"characteristic"`
	Kind           decoder.Kind    `json:"kind"`
	Notification   bool            `json:"notification"`
	Degraded       bool            `json:"degraded,omitempty"`
	Reading        decoder.Reading `json:"reading"`
	Raw            string          `json:"raw"`
}

func newReadingWriter(out *printer) *readingWriter {
	w := &readingWriter{out: out}
	switch out.format {
	case "csv":
		w.csv = csv.NewWriter(out.out)
	case "json":
		w.json = json.NewEncoder(out.out)
	}
	return w
}

func (w *readingWriter) Write(v bus.CharacteristicValue) error {
	rec := readingRecord{
		Time:           time.Now(),
		Device:         v.Device.Address(),
		Service:        v.Service,
		Characteristic: v.Characteristic,
		Notification:   v.Notification,
		Reading:        v.Reading,
		Raw:            hex.EncodeToString(v.Value),
	}
	if v.Reading != nil {
		rec.Kind = v.Reading.Kind()
		rec.Degraded = v.Reading.IsDegraded()
	}

	switch {
	case w.json != nil:
		return w.json.Encode(rec)
	case w.csv != nil:
		if !w.started {
			w.started = true
			if err := w.csv.Write([]string{"time", "device", "characteristic", "kind", "value", "raw"}); err != nil {
				return err
			}
		}
		if err := w.csv.Write([]string{
			rec.Time.Format(time.RFC3339), rec.Device, rec.Characteristic, string(rec.Kind), describe(v.Reading), rec.Raw,
		}); err != nil {
			return err
		}
		w.csv.Flush()
		return w.csv.Error()
	}
	return w.writeLine(rec, v.Reading)
}

func (w *readingWriter) writeLine(rec readingRecord, r decoder.Reading) error {
	value := describe(r)
	if rec.Degraded {
		value = w.out.bad.Sprint(value + " (truncated payload)")
	}
	name := bledb.LookupOr(rec.Characteristic, rec.Characteristic)
	_, err := fmt.Fprintf(w.out.out, "%s  %s  %s\n",
		w.out.dim.Sprint(rec.Time.Format("15:04:05")), w.out.accent.Sprintf("%-26s", name), value)
	return err
}

func (w *readingWriter) Flush() {
	if w.csv != nil {
		w.csv.Flush()
	}
}

func describe(r decoder.Reading) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.String())
}
