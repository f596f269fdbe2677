package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/medlink/internal/bledb"
	"github.com/srg/medlink/internal/bus"
	"github.com/srg/medlink/internal/logging"
	"github.com/srg/medlink/internal/platform"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for LE sensors",
	Long: `Run an LE scan and list the sensors that advertised, with their signal
strength and advertised services.

The scan stops after --duration or on Ctrl+C; results found so far are
printed either way.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanServices []string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config scan_timeout)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "", "Output format (table, json, csv)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Only show sensors advertising these services")
}

// scanEntry is one sensor as seen during the scan.
type scanEntry struct {
	Name     string    `json:"name"`
	Address  string    `json:"address"`
	RSSI     int16     `json:"rssi"`
	Services []string  `json:"services"`
	LastSeen time.Time `json:"last_seen"`
}

func (e scanEntry) advertises(services []string) bool {
	if len(services) == 0 {
		return true
	}
	for _, want := range services {
		for _, have := range e.Services {
			if bledb.NormalizeUUID(want) == have {
				return true
			}
		}
	}
	return false
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	format := scanFormat
	if format == "" {
		format = cfg.OutputFormat
	}
	out, err := newPrinter(cmd, format)
	if err != nil {
		return err
	}
	duration := cfg.ScanTimeout
	if scanDuration > 0 {
		duration = scanDuration
	}

	cmd.SilenceUsage = true

	ctx, cancel := withInterrupt(cmd.Context(), cmd.ErrOrStderr(), "scan")
	defer cancel()

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	entries, err := collectScan(ctx, s, out, duration)
	if err != nil {
		return err
	}

	filtered := entries[:0]
	for _, e := range entries {
		if e.advertises(scanServices) {
			filtered = append(filtered, e)
		}
	}
	return displayScan(out, filtered)
}

// collectScan runs the LE scan for duration and returns one entry per
// address, keeping the latest advertisement.
func collectScan(ctx context.Context, s *session, out *printer, duration time.Duration) ([]scanEntry, error) {
	facade := s.manager.Adapter()
	if err := facade.StartLEScan(); err != nil {
		return nil, fmt.Errorf("failed to start scan: %w", err)
	}
	defer func() {
		if err := facade.StopLEScan(); err != nil {
			s.logger.WithError(err).Warn("Failed to stop scan")
		}
	}()
	out.status("Scanning for %s...", duration)

	seen := map[string]scanEntry{}
	deadline := time.Now().Add(duration)
	for {
		ev, ok := s.events.next(ctx, deadline)
		if !ok {
			break
		}
		found, isFound := ev.(bus.DeviceFound)
		if !isFound || !found.LE {
			continue
		}
		adv := platform.DecodeAdvertisement(found.Record)
		seen[found.Device.Address()] = scanEntry{
			Name:     found.Device.Name(),
			Address:  found.Device.Address(),
			RSSI:     found.RSSI,
			Services: bledb.NormalizeUUIDs(adv.Services),
			LastSeen: time.Now(),
		}
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return nil, err
	}

	logging.Logf(s.log, logging.SeverityInfo, "scan", "Scan finished, %d devices seen", len(seen))
	entries := make([]scanEntry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	// Strongest signal first, address as tie-breaker
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RSSI != entries[j].RSSI {
			return entries[i].RSSI > entries[j].RSSI
		}
		return entries[i].Address < entries[j].Address
	})
	return entries, nil
}

func displayScan(out *printer, entries []scanEntry) error {
	switch out.format {
	case "json":
		return out.writeJSON(entries)
	case "csv":
		rows := make([][]string, len(entries))
		for i, e := range entries {
			rows[i] = []string{e.Name, e.Address, strconv.Itoa(int(e.RSSI)), strings.Join(e.Services, " ")}
		}
		return out.writeCSV([]string{"name", "address", "rssi", "services"}, rows)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out.out, "No devices discovered")
		return nil
	}
	w := tabwriter.NewWriter(out.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, e := range entries {
		name := e.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		names := make([]string, len(e.Services))
		for i, uuid := range e.Services {
			names[i] = bledb.LookupOr(uuid, uuid)
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\n", name, e.Address, e.RSSI, strings.Join(names, ", "))
	}
	return w.Flush()
}
