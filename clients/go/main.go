package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [flags] <command>

Commands:
  status                    Show server state, settings and channel layout
  start                     Start the analysis stream
  stop                      Stop the analysis stream
  calibrate                 Run a calibration pass and print the vector
  export                    Download archived raw data as CSV
  set                       Update pipeline settings (see set flags)
  watch                     Subscribe to the live feed and print samples

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	server := flag.String("server", "http://localhost:5000", "Server base URL")
	rows := flag.Int("rows", 0, "export: number of rows to download (0 = server default)")
	out := flag.String("out", "eeg_data.csv", "export: output file path")

	lowcut := flag.Float64("lowcut", 0, "set: bandpass low cutoff in Hz")
	highcut := flag.Float64("highcut", 0, "set: bandpass high cutoff in Hz")
	channels := flag.Int("channels", 0, "set: number of enabled data channels (1-8)")
	bandpass := flag.String("bandpass", "", "set: enable bandpass filter (on/off)")
	baseline := flag.String("baseline", "", "set: enable baseline correction (on/off)")
	smoothing := flag.String("smoothing", "", "set: enable smoothing (on/off)")
	ref := flag.String("ref", "", "set: include REF channel (on/off)")
	biasout := flag.String("biasout", "", "set: include BIASOUT channel (on/off)")

	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(2)
	}

	client := NewControlClient(strings.TrimSuffix(*server, "/"))

	var err error
	switch flag.Arg(0) {
	case "status":
		err = runStatus(client)
	case "start":
		err = client.StartAnalysis()
		if err == nil {
			fmt.Println("Analysis started")
		}
	case "stop":
		err = client.StopAnalysis()
		if err == nil {
			fmt.Println("Analysis stopped")
		}
	case "calibrate":
		err = runCalibrate(client)
	case "export":
		err = runExport(client, *rows, *out)
	case "set":
		update := SettingsUpdate{}
		if *lowcut != 0 {
			update.Lowcut = lowcut
		}
		if *highcut != 0 {
			update.Highcut = highcut
		}
		if *channels != 0 {
			update.EnabledChannels = channels
		}
		update.BandpassEnabled = parseToggle(*bandpass)
		update.BaselineCorrectionEnabled = parseToggle(*baseline)
		update.SmoothingEnabled = parseToggle(*smoothing)
		update.RefEnabled = parseToggle(*ref)
		update.BiasoutEnabled = parseToggle(*biasout)
		err = client.UpdateSettings(update)
		if err == nil {
			fmt.Println("Settings updated")
		}
	case "watch":
		err = runWatch(client, *server)
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		if errors.Is(err, ErrConflict) {
			// Contention is expected operation, not a crash
			fmt.Fprintf(os.Stderr, "Conflict: %v\n", err)
			os.Exit(1)
		}
		log.Fatalf("Error: %v", err)
	}
}

func parseToggle(v string) *bool {
	switch strings.ToLower(v) {
	case "on", "true", "yes", "1":
		b := true
		return &b
	case "off", "false", "no", "0":
		b := false
		return &b
	default:
		return nil
	}
}

func runStatus(client *ControlClient) error {
	status, err := client.Status()
	if err != nil {
		return err
	}

	fmt.Printf("State:         %s\n", status.State)
	fmt.Printf("Sample rate:   %d Hz\n", status.SampleRate)
	fmt.Printf("Poll interval: %d ms\n", status.PollIntervalMs)
	fmt.Printf("Subscribers:   %d\n", status.Subscribers)
	fmt.Printf("Archived rows: %d\n", status.ArchivedRows)
	fmt.Printf("Bandpass:      %v (%.1f-%.1f Hz, order %d)\n",
		status.Settings.BandpassEnabled, status.Settings.Lowcut,
		status.Settings.Highcut, status.Settings.Order)
	fmt.Printf("Channels:")
	for _, ch := range status.Channels {
		fmt.Printf(" %s", ch.Name)
	}
	fmt.Println()
	return nil
}

func runCalibrate(client *ControlClient) error {
	fmt.Println("Calibrating, keep still...")
	values, err := client.Calibrate()
	if err != nil {
		return err
	}
	for i, v := range values {
		fmt.Printf("  channel %d: %.3f\n", i, v)
	}
	return nil
}

func runExport(client *ControlClient, rows int, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := client.ExportCSV(f, rows)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d bytes to %s\n", n, path)
	return nil
}

// runWatch subscribes to the live feed and prints the newest value per
// series once a second until interrupted.
func runWatch(client *ControlClient, server string) error {
	status, err := client.Status()
	if err != nil {
		return err
	}

	chart := NewChartModel()
	chart.Rebuild(status.Channels)
	if status.State == "running" {
		chart.SetRunning(true)
	}

	sub, err := NewStreamSubscriber(server, chart)
	if err != nil {
		return err
	}
	if err := sub.Connect(); err != nil {
		return err
	}
	defer sub.Close()

	log.Printf("Watching %s (%d series), Ctrl-C to stop", server, chart.SeriesCount())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-sigCh:
			fmt.Println()
			return nil
		case <-ticker.C:
			printLatest(chart)
		}
	}
}

func printLatest(chart *ChartModel) {
	var line strings.Builder
	for _, s := range chart.Snapshot() {
		points := s.Points()
		if len(points) == 0 {
			continue
		}
		fmt.Fprintf(&line, "%s=%.2f ", s.Name, points[len(points)-1])
	}
	if line.Len() == 0 {
		fmt.Println("(no samples yet)")
		return
	}
	fmt.Println(strings.TrimSpace(line.String()))
}
