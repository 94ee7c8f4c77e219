package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/biotrace/internal/adapter/goble"
	"github.com/srg/biotrace/internal/scan"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for candidate sensor devices",
	Long: `Scan for Bluetooth Low Energy devices and display the candidates
matching the configured address prefix.

Devices outside the prefix are filtered out; the remaining candidates
are listed with their names and addresses, ready to be passed to the
monitor command.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
	scanPrefix   string
	scanWatch    bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (0 uses the configured scan_timeout)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringVarP(&scanPrefix, "prefix", "p", "", "Address prefix filter (overrides configuration)")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously redraw results while scanning")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	prefix := cfg.AddressPrefix
	if scanPrefix != "" {
		prefix = scanPrefix
	}
	timeout := cfg.ScanTimeout
	if scanDuration > 0 {
		timeout = scanDuration
	}

	ad := goble.New(cfg.ConnectTimeout, logger)
	coord := scan.NewCoordinator(ad, prefix, logger)

	// Listen for Ctrl+C to cancel
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Println("\nCtrl+C pressed, cancelling scan...")
		cancel()
	}()

	if err := coord.StartScan(ctx, timeout); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return displaySnapshot(coord.Snapshot())
		case snap, ok := <-coord.Snapshots():
			if !ok {
				return displaySnapshot(coord.Snapshot())
			}
			if scanWatch {
				clearScreen()
				if err := displaySnapshot(snap); err != nil {
					return err
				}
			}
			if !snap.Scanning {
				if !scanWatch {
					return displaySnapshot(snap)
				}
				return nil
			}
		}
	}
}

func displaySnapshot(snap scan.Snapshot) error {
	if scanFormat == "json" {
		return displayDevicesJSON(snap.Devices)
	}
	return displayDevicesTable(snap.Devices)
}

func displayDevicesTable(devices []scan.DeviceHandle) error {
	if len(devices) == 0 {
		fmt.Println("No devices discovered")
		return nil
	}

	var base io.Writer = os.Stdout
	w := tabwriter.NewWriter(base, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI")
	fmt.Fprintln(w, strings.Repeat("-", 50))

	for _, dev := range devices {
		name := dev.DisplayName()
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d dBm\n", name, dev.Address, dev.RSSI)
	}

	return w.Flush()
}

func displayDevicesJSON(devices []scan.DeviceHandle) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(devices)
}

func clearScreen() {
	fmt.Fprint(os.Stdout, "\033[2J\033[H")
}
