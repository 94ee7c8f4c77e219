package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/biotrace/internal/adapter/goble"
	"github.com/srg/biotrace/internal/bledb"
	"github.com/srg/biotrace/internal/scan"
	"github.com/srg/biotrace/internal/session"
	"github.com/srg/biotrace/internal/signal"
	"github.com/srg/biotrace/internal/supervisor"
)

// monitorCmd represents the monitor command
var monitorCmd = &cobra.Command{
	Use:   "monitor <address>",
	Short: "Connect to a sensor and stream its channels",
	Long: `Connect to the sensor at the given address, subscribe to its ECG and
PPG channels and stream decoded samples to the terminal until Ctrl+C.

The address is typically taken from the scan command's output.`,
	Args: cobra.ExactArgs(1),
	RunE: runMonitor,
}

var (
	monitorQuiet    bool
	monitorDuration time.Duration
)

func init() {
	monitorCmd.Flags().BoolVarP(&monitorQuiet, "quiet", "q", false, "Suppress per-sample output, show lifecycle events only")
	monitorCmd.Flags().DurationVarP(&monitorDuration, "duration", "d", 0, "Stop streaming after this duration (0 streams until Ctrl+C)")
}

var (
	ecgLabel   = color.New(color.FgGreen).SprintFunc()
	ppgLabel   = color.New(color.FgCyan).SprintFunc()
	stateLabel = color.New(color.FgYellow).SprintFunc()
	errLabel   = color.New(color.FgRed).SprintFunc()
)

func channelLabel(id signal.ChannelID) string {
	if id == signal.ECG {
		return ecgLabel(id.String())
	}
	return ppgLabel(id.String())
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ad := goble.New(cfg.ConnectTimeout, logger)
	sup := supervisor.New(ad, cfg.AddressPrefix, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dev := scan.DeviceHandle{Address: args[0]}
	fmt.Printf("Connecting to %s...\n", dev.Address)
	sess, err := sup.SelectDevice(ctx, dev)
	if err != nil {
		return err
	}
	defer sup.Teardown()

	printProfile(sess)

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer ossignal.Stop(sigCh)

	var deadline <-chan time.Time
	if monitorDuration > 0 {
		timer := time.NewTimer(monitorDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	return streamSession(sess, sigCh, deadline)
}

// printProfile lists the discovered services with their known names.
func printProfile(sess *session.Session) {
	profile := sess.Profile()
	if profile == nil {
		return
	}
	fmt.Println("Discovered services:")
	for pair := profile.Oldest(); pair != nil; pair = pair.Next() {
		name := bledb.LookupService(pair.Value.UUID)
		if name == "" {
			name = "Unknown"
		}
		fmt.Printf("  %-36s %s\n", pair.Value.UUID, name)
	}
}

// streamSession renders session events until the user interrupts, the
// duration elapses or the connection drops.
func streamSession(sess *session.Session, sigCh <-chan os.Signal, deadline <-chan time.Time) error {
	for {
		select {
		case <-sigCh:
			fmt.Println("\nCtrl+C pressed, disconnecting...")
			return nil

		case <-deadline:
			fmt.Println("Monitoring duration elapsed, disconnecting...")
			return nil

		case sc := <-sess.States():
			fmt.Printf("[%s] %s\n", stateLabel(sc.State.String()), sc.Reason)
			if sc.State == session.StateDisconnected {
				if sc.Reason == "connection lost" {
					return ErrConnectionLost
				}
				return nil
			}

		case ce := <-sess.ChannelErrors():
			fmt.Printf("[%s] channel %s unavailable: %v\n", errLabel("error"), ce.Channel, ce.Err)

		case u := <-sess.Updates():
			if monitorQuiet {
				continue
			}
			if u.Reset {
				fmt.Printf("%s sweep restarted\n", channelLabel(u.Channel))
			}
			fmt.Printf("%s pos=%-5d value=%.3f\n", channelLabel(u.Channel), u.Sample.Pos, u.Sample.Value)
		}
	}
}
