// expandd - Keyboard text expansion daemon
//
// The daemon watches the keyboard, matches typed keywords against the
// combo list and replaces them with rendered snippets:
//
//	expandd run             Run the expansion daemon
//	expandd stop            Stop a detached daemon
//	expandd status          Show daemon and combo store status
//	expandd pause           Suspend expansion without stopping
//	expandd resume          Resume a paused daemon
//	expandd trigger         Fire the current match manually
//	expandd combos          List combos known to the daemon
//	expandd reload          Reload the combo list from disk
//	expandd simulate        Replay text through the engine offline
//	expandd export          Export combos to a JSON file
//	expandd import          Import combos from a JSON file
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"expandd/internal/config"
	"expandd/internal/ipc"
	"expandd/internal/store"
)

// Version is stamped into status output and the IPC handshake.
const Version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := os.Args[1]

	switch cmd {
	case "run":
		cmdRun()
	case "stop":
		cmdStop()
	case "status":
		cmdStatus()
	case "pause":
		cmdPause()
	case "resume":
		cmdResume()
	case "trigger":
		cmdTrigger()
	case "combos":
		cmdCombos()
	case "reload":
		cmdReload()
	case "simulate":
		cmdSimulate()
	case "export":
		cmdExport()
	case "import":
		cmdImport()
	case "version":
		fmt.Printf("expandd %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`expandd - Keyboard text expansion daemon

USAGE:
    expandd <command> [options]

COMMANDS:
    run                 Run the expansion daemon (-detach for background)
    stop                Stop a detached daemon
    status              Show daemon and combo store status
    pause               Suspend expansion without stopping the daemon
    resume              Resume a paused daemon
    trigger             Fire the current match manually
    combos              List combos (-enabled, -conflicts)
    reload              Reload the combo list from disk
    simulate <text>     Replay text through the engine without touching
                        the keyboard or clipboard
    export <file>       Export combos to a JSON file
    import <file>       Import combos from a JSON file (-merge)
    version             Print the version
    help                Show this help message

BASIC WORKFLOW:
    1. expandd run -detach              # Start the daemon
    2. (edit the combo list, e.g. with your editor of choice)
    3. (type a keyword; it expands in place)
    4. expandd status                   # Check fires, state, conflicts
    5. expandd stop                     # Stop when done

The combo list is a JSON file; expandd reloads it automatically when it
changes on disk. Run 'expandd simulate "btw "' to test combos without a
running daemon.

PRIVACY NOTE:
    Matching happens against a short rolling buffer that never leaves
    the process. Typed text is not logged and not stored.`)
}

// loadConfig resolves the effective configuration for control commands.
// It never writes a config file: a missing file means defaults plus
// EXPANDD_* environment overrides.
func loadConfig(path string) *config.Config {
	if path == "" {
		found, ok := config.FindConfigFile()
		if !ok {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
				os.Exit(1)
			}
			return cfg
		}
		path = found
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// dialDaemon connects to the control socket of a running daemon.
func dialDaemon(cfg *config.Config) (*ipc.Client, error) {
	clientCfg := ipc.DefaultClientConfig(cfg.IPC.SocketPath)
	clientCfg.ClientName = "expandd"
	clientCfg.ClientVersion = Version
	clientCfg.AutoReconnect = false
	if t := cfg.IPCTimeout(); t > 0 {
		clientCfg.RequestTimeout = t
	}

	client := ipc.NewClient(clientCfg)
	if err := client.Connect(); err != nil {
		return nil, err
	}
	return client, nil
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)

	client, err := dialDaemon(cfg)
	if err != nil {
		// No daemon; report what the files on disk say.
		offlineStatus(cfg)
		return
	}
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting status: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("=== expandd Status ===")
	fmt.Println()
	fmt.Printf("Daemon:       RUNNING (PID %d, version %s)\n", status.PID, status.Version)
	fmt.Printf("State:        %s\n", strings.ToUpper(status.State))
	fmt.Printf("Uptime:       %s\n", status.Uptime.Round(time.Second))
	fmt.Printf("Key source:   %s\n", status.KeySource)
	fmt.Printf("Socket:       %s\n", status.SocketPath)
	fmt.Println()
	fmt.Println("Combos:")
	fmt.Printf("  File:       %s\n", status.ComboPath)
	fmt.Printf("  Groups:     %d\n", status.Groups)
	fmt.Printf("  Total:      %d (%d active, %d indexed)\n",
		status.Combos, status.ActiveCombos, status.IndexedCombos)
	fmt.Println()
	fmt.Println("Activity:")
	fmt.Printf("  Fires:              %d\n", status.Fires)
	fmt.Printf("  Manual triggers:    %d\n", status.ManualTriggers)
	fmt.Printf("  Render failures:    %d\n", status.RenderFailures)
	fmt.Printf("  Delivery failures:  %d\n", status.DeliveryFailures)
	if status.ActiveRenders > 0 {
		fmt.Printf("  Active renders:     %d\n", status.ActiveRenders)
	}
}

// offlineStatus reports combo store state when no daemon is reachable.
func offlineStatus(cfg *config.Config) {
	fmt.Println("=== expandd Status ===")
	fmt.Println()

	pid, alive := readPidfile(pidfilePath())
	switch {
	case alive:
		fmt.Printf("Daemon:       NOT RESPONDING (PID %d alive, socket unreachable)\n", pid)
	case pid != 0:
		fmt.Printf("Daemon:       NOT RUNNING (stale pidfile, PID %d gone)\n", pid)
	default:
		fmt.Println("Daemon:       NOT RUNNING")
	}
	fmt.Printf("Socket:       %s\n", cfg.IPC.SocketPath)
	fmt.Println()

	fmt.Println("Combos:")
	fmt.Printf("  File:       %s\n", cfg.Combos.Path)
	if _, err := os.Stat(cfg.Combos.Path); os.IsNotExist(err) {
		fmt.Println("  (no combo file yet; it is created on first run)")
		return
	}

	st, err := store.Open(cfg.Combos.Path, store.Options{})
	if err != nil {
		fmt.Printf("  Error reading combo file: %v\n", err)
		return
	}
	groups, combos, active := st.Stats()
	fmt.Printf("  Groups:     %d\n", groups)
	fmt.Printf("  Total:      %d (%d active)\n", combos, active)

	if conflicts := st.List().Conflicts(); len(conflicts) > 0 {
		fmt.Printf("  Conflicts:  %d (run 'expandd combos -conflicts')\n", len(conflicts))
	}
}

func cmdPause() {
	fs := flag.NewFlagSet("pause", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(os.Args[2:])

	client := mustDial(loadConfig(*configPath))
	defer client.Close()

	resp, err := client.Pause()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error pausing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Expansion %s.\n", resp.State)
}

func cmdResume() {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(os.Args[2:])

	client := mustDial(loadConfig(*configPath))
	defer client.Close()

	resp, err := client.Resume()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resuming: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Expansion %s.\n", resp.State)
}

func cmdTrigger() {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(os.Args[2:])

	client := mustDial(loadConfig(*configPath))
	defer client.Close()

	resp, err := client.Trigger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error triggering: %v\n", err)
		os.Exit(1)
	}
	if resp.Accepted {
		fmt.Println("Trigger accepted. The fire happens if the buffer holds a match.")
	}
}

func cmdCombos() {
	fs := flag.NewFlagSet("combos", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	enabledOnly := fs.Bool("enabled", false, "Show only combos that can fire")
	conflicts := fs.Bool("conflicts", false, "Also report keyword conflicts")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(*configPath)

	client, err := dialDaemon(cfg)
	if err != nil {
		// Read the combo file directly so the listing works without a
		// daemon.
		offlineCombos(cfg, *enabledOnly, *conflicts)
		return
	}
	defer client.Close()

	resp, err := client.Combos(*enabledOnly, *conflicts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing combos: %v\n", err)
		os.Exit(1)
	}

	printCombos(resp)
}

func printCombos(resp *ipc.CombosResponse) {
	if len(resp.Combos) == 0 {
		fmt.Println("No combos.")
	} else {
		fmt.Printf("%-12s %-24s %-16s %-8s %s\n", "KEYWORD", "NAME", "GROUP", "STATE", "USES")
		fmt.Println(strings.Repeat("-", 72))
		for _, c := range resp.Combos {
			state := "on"
			if !c.Enabled {
				state = "off"
			}
			uses := ""
			if c.UseCount > 0 {
				uses = fmt.Sprintf("%d", c.UseCount)
			}
			fmt.Printf("%-12s %-24s %-16s %-8s %s\n",
				c.Keyword, truncate(c.Name, 24), truncate(c.Group, 16), state, uses)
		}
	}

	if resp.Conflicts != nil {
		fmt.Println()
		if len(resp.Conflicts) == 0 {
			fmt.Println("No keyword conflicts.")
			return
		}
		fmt.Printf("Conflicts (%d):\n", len(resp.Conflicts))
		for _, c := range resp.Conflicts {
			switch c.Kind {
			case "duplicate":
				fmt.Printf("  %-12s duplicate keyword across %d combos\n", c.Keyword, len(c.ComboIDs))
			case "shadowed":
				fmt.Printf("  %-12s shadowed by keyword of combo %s\n", c.Keyword, c.ShadowedBy)
			default:
				fmt.Printf("  %-12s %s\n", c.Keyword, c.Kind)
			}
		}
	}
}

// offlineCombos lists combos straight from the combo file.
func offlineCombos(cfg *config.Config, enabledOnly, conflicts bool) {
	st, err := store.Open(cfg.Combos.Path, store.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening combo file: %v\n", err)
		os.Exit(1)
	}

	list := st.List()
	groupNames := make(map[string]string, len(list.Groups))
	for _, g := range list.Groups {
		groupNames[g.ID] = g.Name
	}

	resp := &ipc.CombosResponse{}
	for _, c := range list.Combos {
		if enabledOnly && !c.Enabled {
			continue
		}
		resp.Combos = append(resp.Combos, ipc.ComboInfo{
			ID:      c.ID,
			Name:    c.Name,
			Keyword: c.Keyword,
			Group:   groupNames[c.GroupID],
			Enabled: c.Enabled,
		})
	}
	if conflicts {
		resp.Conflicts = []ipc.ConflictInfo{}
		for _, c := range list.Conflicts() {
			resp.Conflicts = append(resp.Conflicts, ipc.ConflictInfo{
				Kind:       string(c.Kind),
				Keyword:    c.Keyword,
				ComboIDs:   c.ComboIDs,
				ShadowedBy: c.ShadowedBy,
			})
		}
	}
	printCombos(resp)
}

func cmdReload() {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(os.Args[2:])

	client := mustDial(loadConfig(*configPath))
	defer client.Close()

	resp, err := client.Reload()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reloading: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reloaded: %d groups, %d combos (%d active).\n",
		resp.Groups, resp.Combos, resp.ActiveCombos)
}

func cmdExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: expandd export <output.json> [combo-id ...]")
		os.Exit(1)
	}
	outPath := fs.Arg(0)
	ids := fs.Args()[1:]

	cfg := loadConfig(*configPath)
	st, err := store.Open(cfg.Combos.Path, store.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening combo file: %v\n", err)
		os.Exit(1)
	}

	if err := st.ExportCombos(outPath, ids); err != nil {
		fmt.Fprintf(os.Stderr, "Error exporting: %v\n", err)
		os.Exit(1)
	}

	_, combos, _ := st.Stats()
	n := len(ids)
	if n == 0 {
		n = combos
	}
	fmt.Printf("Exported %d combos to %s\n", n, outPath)
}

func cmdImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	merge := fs.Bool("merge", false, "Update existing combos instead of skipping them")
	fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: expandd import [-merge] <input.json>")
		os.Exit(1)
	}
	inPath := fs.Arg(0)

	cfg := loadConfig(*configPath)
	st, err := store.Open(cfg.Combos.Path, store.Options{BackupOnSave: cfg.Combos.BackupOnSave})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening combo file: %v\n", err)
		os.Exit(1)
	}

	n, err := st.ImportCombos(inPath, *merge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error importing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d combos into %s\n", n, cfg.Combos.Path)

	// A running daemon keeps serving the old list until it reloads.
	if client, err := dialDaemon(cfg); err == nil {
		defer client.Close()
		if resp, err := client.Reload(); err == nil {
			fmt.Printf("Daemon reloaded: %d combos (%d active).\n", resp.Combos, resp.ActiveCombos)
		}
	}
}

// mustDial connects to the daemon or exits with a hint.
func mustDial(cfg *config.Config) *ipc.Client {
	client, err := dialDaemon(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot reach the daemon: %v\n", err)
		fmt.Fprintln(os.Stderr, "Start it with: expandd run")
		os.Exit(1)
	}
	return client
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
