// expandctl - Control client for the expandd daemon
//
// expandctl talks to a running daemon over its unix control socket and
// does nothing else: no combo file access, no offline fallbacks. It is
// the tool for scripts and status bars:
//
//	expandctl status -json | jq .fires
//	expandctl watch
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"expandd/internal/config"
	"expandd/internal/ipc"
)

// Version is reported to the daemon in the hello exchange.
const Version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "status":
		cmdStatus()
	case "ping":
		cmdPing()
	case "pause":
		cmdPause()
	case "resume":
		cmdResume()
	case "trigger":
		cmdTrigger()
	case "combos":
		cmdCombos()
	case "stats":
		cmdStats()
	case "config":
		cmdConfig()
	case "reload":
		cmdReload()
	case "watch":
		cmdWatch()
	case "version":
		fmt.Printf("expandctl %s\n", Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`expandctl - Control client for the expandd daemon

USAGE:
    expandctl <command> [options]

COMMANDS:
    status          Show daemon status (-json)
    ping            Check the daemon is responsive
    pause           Suspend expansion
    resume          Resume expansion
    trigger         Fire the current match manually
    combos          List combos (-enabled, -conflicts, -json)
    stats           Show usage statistics (-top N, -recent N, -json)
    config          Print the daemon's effective configuration
    reload          Reload the combo list from disk
    watch           Stream daemon events until interrupted
    version         Print the version
    help            Show this help message

Every command needs a running daemon; start one with 'expandd run'.
Offline inspection of the combo file lives in expandd itself.`)
}

// dial resolves the configuration and connects to the daemon, exiting
// with a hint when it is unreachable.
func dial(configPath string) *ipc.Client {
	cfg := effectiveConfig(configPath)

	clientCfg := ipc.DefaultClientConfig(cfg.IPC.SocketPath)
	clientCfg.ClientName = "expandctl"
	clientCfg.ClientVersion = Version
	clientCfg.AutoReconnect = false
	if t := cfg.IPCTimeout(); t > 0 {
		clientCfg.RequestTimeout = t
	}

	client := ipc.NewClient(clientCfg)
	if err := client.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "Cannot reach the daemon: %v\n", err)
		fmt.Fprintln(os.Stderr, "Start it with: expandd run")
		os.Exit(1)
	}
	return client
}

func effectiveConfig(path string) *config.Config {
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

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(data))
}

func cmdStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	asJSON := fs.Bool("json", false, "Print the raw status as JSON")
	fs.Parse(os.Args[2:])

	client := dial(*configPath)
	defer client.Close()

	status, err := client.Status()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting status: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		printJSON(status)
		return
	}

	fmt.Printf("Daemon:       RUNNING (PID %d, version %s)\n", status.PID, status.Version)
	fmt.Printf("State:        %s\n", strings.ToUpper(status.State))
	fmt.Printf("Uptime:       %s\n", status.Uptime.Round(time.Second))
	fmt.Printf("Key source:   %s\n", status.KeySource)
	fmt.Printf("Combos:       %d (%d active, %d indexed) in %d groups\n",
		status.Combos, status.ActiveCombos, status.IndexedCombos, status.Groups)
	fmt.Printf("Fires:        %d (%d manual)\n", status.Fires, status.ManualTriggers)
	if status.RenderFailures > 0 || status.DeliveryFailures > 0 {
		fmt.Printf("Failures:     %d render, %d delivery\n",
			status.RenderFailures, status.DeliveryFailures)
	}
}

func cmdPing() {
	fs := flag.NewFlagSet("ping", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(os.Args[2:])

	client := dial(*configPath)
	defer client.Close()

	start := time.Now()
	if err := client.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "Daemon not responding: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Daemon %s responding (%s)\n",
		client.ServerVersion(), time.Since(start).Round(time.Microsecond))
}

func cmdPause() {
	fs := flag.NewFlagSet("pause", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(os.Args[2:])

	client := dial(*configPath)
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

	client := dial(*configPath)
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

	client := dial(*configPath)
	defer client.Close()

	if _, err := client.Trigger(); err != nil {
		fmt.Fprintf(os.Stderr, "Error triggering: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Trigger accepted.")
}

func cmdCombos() {
	fs := flag.NewFlagSet("combos", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	enabledOnly := fs.Bool("enabled", false, "Show only combos that can fire")
	conflicts := fs.Bool("conflicts", false, "Also report keyword conflicts")
	asJSON := fs.Bool("json", false, "Print the raw list as JSON")
	fs.Parse(os.Args[2:])

	client := dial(*configPath)
	defer client.Close()

	resp, err := client.Combos(*enabledOnly, *conflicts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing combos: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		printJSON(resp)
		return
	}

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
				c.Keyword, clip(c.Name, 24), clip(c.Group, 16), state, uses)
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

func cmdStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	top := fs.Int("top", 10, "Number of most-used combos to show")
	recent := fs.Int("recent", 20, "Number of recent fires to show")
	asJSON := fs.Bool("json", false, "Print the raw statistics as JSON")
	fs.Parse(os.Args[2:])

	client := dial(*configPath)
	defer client.Close()

	resp, err := client.Stats(*top, *recent)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting stats: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		printJSON(resp)
		return
	}

	if !resp.AuditEnabled {
		fmt.Println("Usage statistics are off (audit.enabled = false).")
		return
	}

	if len(resp.Top) > 0 {
		fmt.Printf("Most used (%d):\n", len(resp.Top))
		fmt.Printf("  %-12s %-24s %8s  %s\n", "KEYWORD", "NAME", "USES", "LAST USED")
		for _, u := range resp.Top {
			fmt.Printf("  %-12s %-24s %8d  %s\n",
				u.Keyword, clip(u.Name, 24), u.UseCount,
				u.LastUsed.Local().Format("2006-01-02 15:04"))
		}
		fmt.Println()
	}

	if len(resp.Recent) == 0 {
		fmt.Println("No fires recorded.")
		return
	}
	fmt.Printf("Recent fires (%d):\n", len(resp.Recent))
	for _, f := range resp.Recent {
		line := fmt.Sprintf("  %s  %-12s %-8s %s",
			f.FiredAt.Local().Format("15:04:05"), f.Keyword, f.Outcome,
			f.Duration.Round(time.Millisecond))
		if f.Error != "" {
			line += "  " + clip(f.Error, 40)
		}
		fmt.Println(line)
	}
}

func cmdConfig() {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(os.Args[2:])

	client := dial(*configPath)
	defer client.Close()

	resp, err := client.GetConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting config: %v\n", err)
		os.Exit(1)
	}

	if resp.Path != "" {
		fmt.Fprintf(os.Stderr, "# loaded from %s\n", resp.Path)
	}
	printJSON(resp.Config)
}

func cmdReload() {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(os.Args[2:])

	client := dial(*configPath)
	defer client.Close()

	resp, err := client.Reload()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reloading: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Reloaded: %d groups, %d combos (%d active).\n",
		resp.Groups, resp.Combos, resp.ActiveCombos)
}

// cmdWatch subscribes to daemon events and prints them as they arrive,
// one line each, until the daemon shuts down or the user interrupts.
func cmdWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	filter := fs.String("events", "", "Comma-separated event types (default: all)")
	asJSON := fs.Bool("json", false, "Print events as JSON lines")
	fs.Parse(os.Args[2:])

	types, err := parseEventTypes(*filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	client := dial(*configPath)
	defer client.Close()

	if err := client.Subscribe(types); err != nil {
		fmt.Fprintf(os.Stderr, "Error subscribing: %v\n", err)
		os.Exit(1)
	}

	if !*asJSON {
		fmt.Fprintln(os.Stderr, "Watching daemon events; Ctrl-C to stop.")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	tick := time.NewTicker(time.Second)
	defer tick.Stop()

	for {
		select {
		case ev, ok := <-client.Events():
			if !ok || ev == nil {
				return
			}
			printEvent(ev, *asJSON)
			if ev.Type == ipc.EventDaemonShutdown {
				fmt.Fprintln(os.Stderr, "Daemon shut down.")
				return
			}

		case <-sig:
			client.Unsubscribe()
			return

		case <-tick.C:
			if !client.IsConnected() {
				fmt.Fprintln(os.Stderr, "Connection lost.")
				os.Exit(1)
			}
		}
	}
}

func printEvent(ev *ipc.Event, asJSON bool) {
	if asJSON {
		data, err := json.Marshal(struct {
			Type string         `json:"type"`
			Time time.Time      `json:"time"`
			Data map[string]any `json:"data,omitempty"`
		}{eventTypeName(ev.Type), ev.Timestamp, ev.Data})
		if err != nil {
			return
		}
		fmt.Println(string(data))
		return
	}

	line := fmt.Sprintf("[%s] %-16s", ev.Timestamp.Local().Format("15:04:05"), eventTypeName(ev.Type))
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		line += fmt.Sprintf(" %s=%v", k, ev.Data[k])
	}
	fmt.Println(line)
}

// eventNames maps wire event types to the names watch prints and the
// -events flag accepts.
var eventNames = map[ipc.EventType]string{
	ipc.EventFire:           "fire",
	ipc.EventRenderFailed:   "render_failed",
	ipc.EventDeliveryFailed: "delivery_failed",
	ipc.EventStateChanged:   "state_changed",
	ipc.EventStoreReloaded:  "store_reloaded",
	ipc.EventConfigApplied:  "config_applied",
	ipc.EventDaemonShutdown: "daemon_shutdown",
}

func eventTypeName(et ipc.EventType) string {
	if name, ok := eventNames[et]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", et)
}

func parseEventTypes(spec string) ([]ipc.EventType, error) {
	if spec == "" {
		return nil, nil
	}
	byName := make(map[string]ipc.EventType, len(eventNames))
	for et, name := range eventNames {
		byName[name] = et
	}

	var out []ipc.EventType
	for _, part := range strings.Split(spec, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}
		et, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown event type %q (want one of: %s)",
				name, strings.Join(knownEventNames(), ", "))
		}
		out = append(out, et)
	}
	return out, nil
}

func knownEventNames() []string {
	names := make([]string, 0, len(eventNames))
	for _, name := range eventNames {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
