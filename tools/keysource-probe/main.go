// Command keysource-probe is a manual testing tool for the system key
// source. It checks device permissions, starts the source and prints every
// decoded key event until interrupted with Ctrl+C.
//
// Usage:
//
//	go build -o keysource-probe ./tools/keysource-probe
//	./keysource-probe
//	./keysource-probe -device /dev/input/event3
//
// Requirements:
//   - Linux with readable /dev/input/event* devices
//   - Typically: membership in the "input" group, or root
//
// Note: the probe prints what you type, including passwords. Use it on a
// test keyboard or close it before switching windows.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"expandd/internal/input"
	"expandd/internal/keyevent"
)

func main() {
	var (
		device = flag.String("device", "", "Input device path; empty = discover keyboards")
		quiet  = flag.Bool("quiet", false, "Only print counts, not individual events")
	)
	flag.Parse()

	fmt.Println("Key Source Probe")
	fmt.Println("================")
	fmt.Println()

	opts := input.Options{}
	if *device != "" {
		opts.Devices = []string{*device}
	}
	source := input.NewSystem(opts)

	fmt.Print("Checking key source availability... ")
	available, msg := source.Available()
	fmt.Println(msg)
	if !available {
		fmt.Println()
		fmt.Println("No readable keyboard device was found. On most distributions:")
		fmt.Println("  1. Add your user to the input group: sudo usermod -aG input $USER")
		fmt.Println("  2. Log out and back in")
		fmt.Println("  3. Re-run this probe")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	fmt.Print("Starting key source... ")
	if err := source.Start(ctx); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("OK")
	fmt.Println()
	fmt.Println("Type on the keyboard; events appear below. Ctrl+C to stop.")
	fmt.Println()

	counts := make(map[keyevent.Kind]int)
	var total int
	start := time.Now()

loop:
	for {
		select {
		case <-sigChan:
			break loop

		case ev, ok := <-source.Events():
			if !ok {
				break loop
			}
			total++
			counts[ev.Kind]++
			if !*quiet {
				printEvent(total, ev)
			}
		}
	}

	source.Stop()

	elapsed := time.Since(start)
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Duration:      %s\n", elapsed.Round(time.Second))
	fmt.Printf("  Total events:  %d\n", total)
	for _, kind := range []keyevent.Kind{
		keyevent.KindChar, keyevent.KindBackspace, keyevent.KindEnter,
		keyevent.KindTab, keyevent.KindOther,
	} {
		if counts[kind] > 0 {
			fmt.Printf("  %-13s %d\n", kind.String()+":", counts[kind])
		}
	}
	if total > 0 && elapsed > time.Second {
		fmt.Printf("  Rate:          %.1f events/s\n", float64(total)/elapsed.Seconds())
	}
}

func printEvent(n int, ev keyevent.Event) {
	ts := ev.Timestamp.Format("15:04:05.000")
	switch ev.Kind {
	case keyevent.KindChar:
		fmt.Printf("%6d  %s  char %-12q mods=%s\n", n, ts, ev.Rune, modsOrNone(ev))
	default:
		fmt.Printf("%6d  %s  %-18s mods=%s\n", n, ts, ev.Kind, modsOrNone(ev))
	}
}

func modsOrNone(ev keyevent.Event) string {
	if s := ev.Modifiers.String(); s != "" {
		return s
	}
	return "-"
}
