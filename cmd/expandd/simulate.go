package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"expandd/internal/delivery"
	"expandd/internal/engine"
	"expandd/internal/input"
	"expandd/internal/keyevent"
	"expandd/internal/script"
	"expandd/internal/snippet"
	"expandd/internal/store"
)

// cmdSimulate replays text through the full match-render pipeline with a
// recording deliverer, so combos can be tested without a running daemon,
// a keyboard or a clipboard.
func cmdSimulate() {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	combosPath := fs.String("combos", "", "Combo file to replay against (defaults to the configured one)")
	trigger := fs.Bool("trigger", false, "End the replay with the manual trigger shortcut")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, `Usage: expandd simulate [-trigger] <text>`)
		fmt.Fprintln(os.Stderr, `Quote the text to keep a trailing boundary: expandd simulate "btw "`)
		os.Exit(1)
	}
	text := strings.Join(fs.Args(), " ")

	cfg := loadConfig(*configPath)
	if *combosPath != "" {
		cfg.Combos.Path = *combosPath
	}

	st, err := store.Open(cfg.Combos.Path, store.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening combo file: %v\n", err)
		os.Exit(1)
	}

	// No clipboard reader and no prompter: a replay must not read the
	// real clipboard, and it cannot stop to ask for input. Combos that
	// need either show up below as render failures.
	rec := delivery.NewRecorder()
	renderer := snippet.NewRenderer(snippet.Collaborators{
		Runner: script.NewRunner(cfg.ScriptTimeout()),
	})

	eng, err := engine.New(engine.Options{
		Store:     st,
		Deliverer: rec,
		Renderer:  renderer,
		Config:    cfg,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building engine: %v\n", err)
		os.Exit(1)
	}

	var (
		mu     sync.Mutex
		events []engine.Event
	)
	eng.OnEvent(func(ev engine.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	src := input.NewScripted()
	if err := eng.Start(context.Background(), src); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting engine: %v\n", err)
		os.Exit(1)
	}
	src.Type(text)
	if *trigger {
		src.Chord(triggerChord(cfg.Matching.TriggerShortcut))
	}
	// Stop closes the source; the loop finishes the queued events and
	// waits for in-flight renders before returning.
	eng.Stop()

	fired := printSimEvents(events)
	printSimOps(rec.Operations())
	if !fired {
		fmt.Println("No combo fired.")
		if !*trigger {
			fmt.Println(`Hint: matching needs a boundary character ("btw " not "btw"),`)
			fmt.Println("or -trigger to force the manual shortcut at the end.")
		}
	}
}

// triggerChord maps the configured shortcut string to the chord the
// scripted source should emit, falling back to the stock chord.
func triggerChord(spec string) keyevent.Shortcut {
	if spec == "" {
		return keyevent.DefaultTriggerShortcut
	}
	sc, err := keyevent.ParseShortcut(spec)
	if err != nil {
		return keyevent.DefaultTriggerShortcut
	}
	return sc
}

func printSimEvents(events []engine.Event) (fired bool) {
	for _, ev := range events {
		switch ev.Type {
		case engine.EventFire:
			fired = true
			fmt.Printf("Fired %q -> %s\n", ev.Keyword, ev.ComboName)
		case engine.EventRenderFailed:
			fmt.Printf("Render failed for %q (%s): %s\n", ev.Keyword, ev.ComboName, ev.Error)
		case engine.EventDeliveryFailed:
			fmt.Printf("Delivery failed for %q (%s): %s\n", ev.Keyword, ev.ComboName, ev.Error)
		}
	}
	return fired
}

func printSimOps(ops []delivery.RecordedOp) {
	if len(ops) == 0 {
		return
	}
	fmt.Println("Delivery operations:")
	for _, op := range ops {
		switch op.Kind {
		case delivery.OpErase:
			fmt.Printf("  erase %d character(s)\n", op.Count)
		case delivery.OpEmit:
			fmt.Printf("  emit %q", op.Text)
			for _, d := range op.Delays {
				fmt.Printf(" [pause %s after %d runes]", d.Duration, d.Offset)
			}
			fmt.Println()
		case delivery.OpMoveCaret:
			fmt.Printf("  move caret left %d\n", op.Count)
		}
	}
}
