// Command netmapctl starts, follows and cancels netmap scans.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/henno/go-topology/internal/client"
	"github.com/henno/go-topology/internal/poller"
	"github.com/henno/go-topology/internal/session"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const cancelTimeout = 5 * time.Second

const usage = `Usage: netmapctl [flags] <command> [id]

Commands:
  scan      start a scan (--network, --core-switch) and follow it
  status    show the current scan
  watch     follow the current scan until it finishes
  cancel    cancel a scan (defaults to the current one)

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("netmapctl", pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.String("server", "http://127.0.0.1:9090", "netmap server base URL (env NETMAP_SERVER)")
	fs.String("token", "", "bearer token for scan commands (env NETMAP_TOKEN)")
	fs.Duration("interval", poller.DefaultInterval, "status polling interval")
	network := fs.String("network", "", "network to scan in CIDR notation")
	coreSwitch := fs.String("core-switch", "", "IP address of the core switch")
	noWatch := fs.Bool("no-watch", false, "return after the scan is accepted")
	fs.Usage = func() {
		fmt.Fprint(out, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	v := viper.New()
	v.SetEnvPrefix("NETMAP")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return err
	}

	api := client.NewHTTPClient(v.GetString("server"), v.GetString("token"))
	interval := v.GetDuration("interval")

	switch fs.Arg(0) {
	case "scan":
		if *network == "" || *coreSwitch == "" {
			return errors.New("scan requires --network and --core-switch")
		}
		snap, err := api.StartScan(ctx, *network, *coreSwitch)
		if err != nil {
			if client.IsConflict(err) {
				return fmt.Errorf("%w; use 'netmapctl watch' to follow it", err)
			}
			return err
		}
		fmt.Fprintln(out, summaryLine(snap))
		if *noWatch {
			return nil
		}
		return watch(ctx, api, snap.ID, interval, out)

	case "status":
		snap, err := api.CurrentScan(ctx)
		if client.IsNotFound(err) {
			fmt.Fprintln(out, "no scan has been started")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, summaryLine(snap))
		fmt.Fprintln(out, deviceTable(snap.Devices))
		return nil

	case "watch":
		snap, err := api.CurrentScan(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, summaryLine(snap))
		if snap.Status.Terminal() {
			fmt.Fprintln(out, deviceTable(snap.Devices))
			return nil
		}
		return watch(ctx, api, snap.ID, interval, out)

	case "cancel":
		id := fs.Arg(1)
		if id == "" {
			snap, err := api.CurrentScan(ctx)
			if err != nil {
				return err
			}
			id = snap.ID
		}
		snap, err := api.CancelScan(ctx, id)
		if client.IsNotFound(err) {
			fmt.Fprintf(out, "nothing to cancel for %s\n", id)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintln(out, summaryLine(snap))
		return nil

	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", fs.Arg(0))
	}
}

// watch follows id until it reaches a terminal state. An interrupt requests
// cancellation and keeps polling until the cancelled status is observed.
func watch(ctx context.Context, api poller.API, id string, interval time.Duration, out io.Writer) error {
	var last session.Snapshot
	ctl := poller.New(api,
		poller.WithInterval(interval),
		poller.WithRenderer(func(s session.Snapshot) {
			if s.Status != last.Status || s.DiscoveredCount != last.DiscoveredCount {
				fmt.Fprintln(out, summaryLine(s))
			}
			last = s
		}),
	)
	ctl.OnStartAccepted(id)

	select {
	case <-ctl.Done():
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
		err := ctl.OnCancelRequested(cctx, id)
		cancel()
		if err != nil && !client.IsNotFound(err) {
			ctl.Stop()
			return err
		}
		select {
		case <-ctl.Done():
		case <-time.After(cancelTimeout):
			ctl.Stop()
		}
	}

	snap, ok := ctl.Snapshot()
	if !ok {
		return errors.New("lost contact with the server before the first status update")
	}
	fmt.Fprintln(out, deviceTable(snap.Devices))
	if snap.Status == session.StatusError {
		return fmt.Errorf("scan failed: %s", snap.Error)
	}
	return nil
}
