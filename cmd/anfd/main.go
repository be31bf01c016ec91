// ABOUTME: Entry point for anfd, the agent coordination daemon
// ABOUTME: Serves the command socket and offers client subcommands for scripting

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/anf-daemon/internal/client"
	"github.com/2389/anf-daemon/internal/config"
	"github.com/2389/anf-daemon/internal/daemon"
	"github.com/2389/anf-daemon/internal/protocol"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  __      _
   __ _ _ __    / _|  __| |
  / _' | '_ \  | |_  / _' |
 | (_| | | | | |  _|| (_| |
  \__,_|_| |_| |_|   \__,_|
`

func usage() {
	fmt.Println("Usage: anfd <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                      Start the daemon")
	fmt.Println("  init                       Write a default config file")
	fmt.Println("  call ACTION [-p key=val]   Send a structured request")
	fmt.Println("  send TEXT                  Send a legacy text command")
	fmt.Println("  health                     Check daemon health over HTTP")
	fmt.Println("  agents                     List registered agents")
	fmt.Println()
	fmt.Println("Every command accepts --config PATH (default $ANF_CONFIG or ~/.config/anf/daemon.yaml).")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit(args)
	case "call":
		err = runCall(ctx, args)
	case "send":
		err = runSend(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "agents":
		err = runAgents(ctx, args)
	case "version", "--version", "-v":
		fmt.Println(version)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags holds the flags every subcommand shares.
type commonFlags struct {
	configPath string
	socketPath string
	timeout    time.Duration
}

func newFlagSet(name string, c *commonFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&c.configPath, "config", "c", config.DefaultPath(), "config file path")
	fs.StringVarP(&c.socketPath, "socket", "s", "", "command socket path (overrides config)")
	fs.DurationVarP(&c.timeout, "timeout", "t", 35*time.Second, "request timeout for client commands")
	return fs
}

func (c *commonFlags) load() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(c.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if c.socketPath != "" {
		cfg.Daemon.SocketPath = c.socketPath
	}
	return cfg, nil
}

func runServe(ctx context.Context, args []string) error {
	var c commonFlags
	fs := newFlagSet("serve", &c)
	logLevel := fs.String("log-level", "", "override logging.level")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := c.load()
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", c.configPath)
	green.Print("    ▶ ")
	fmt.Printf("Socket:    %s\n", cfg.Daemon.SocketPath)
	green.Print("    ▶ ")
	fmt.Printf("Delegate:  ")
	if cfg.Delegate.Enabled {
		fmt.Println(cfg.Delegate.SocketPath)
	} else {
		yellow.Println("disabled")
	}
	green.Print("    ▶ ")
	fmt.Printf("Journal:   ")
	if cfg.Database.Path != "" {
		fmt.Println(cfg.Database.Path)
	} else {
		yellow.Println("in memory only")
	}
	if cfg.Metrics.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Metrics:   http://%s%s\n", cfg.Metrics.Addr, cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting anfd",
		"config", c.configPath,
		"socket", cfg.Daemon.SocketPath,
		"delegate", cfg.Delegate.Enabled,
	)

	d, err := daemon.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating daemon: %w", err)
	}
	return d.Run(ctx)
}

// runInit writes the sample config, prompting before overwriting.
func runInit(args []string) error {
	var c commonFlags
	fs := newFlagSet("init", &c)
	force := fs.BoolP("force", "f", false, "overwrite an existing file without asking")
	if err := fs.Parse(args); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if _, err := os.Stat(c.configPath); err == nil && !*force {
		yellow.Printf("Config already exists at %s\n", c.configPath)
		reader := bufio.NewReader(os.Stdin)
		answer := prompt(reader, "Overwrite? [y/N]", "n")
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(c.configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(c.configPath, []byte(config.Sample), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green.Print("✓ ")
	fmt.Printf("Wrote %s\n", c.configPath)
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	fmt.Printf("%s ", question)
	line, err := reader.ReadString('\n')
	if err != nil {
		return defaultVal
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultVal
	}
	return line
}

// runCall sends {"action": ACTION, "params": {...}}. Params come from
// repeated -p key=value flags or a whole JSON object via --json.
func runCall(ctx context.Context, args []string) error {
	var c commonFlags
	fs := newFlagSet("call", &c)
	pairs := fs.StringArrayP("param", "p", nil, "request parameter as key=value (repeatable)")
	rawJSON := fs.StringP("json", "j", "", "request params as a JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: anfd call ACTION [-p key=value]... [--json '{...}']")
	}

	params, err := buildParams(*pairs, *rawJSON)
	if err != nil {
		return err
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	cl := client.New(cfg.Daemon.SocketPath, client.WithTimeout(c.timeout))
	resp, err := cl.Call(ctx, protocol.Request{Action: fs.Arg(0), Params: params})
	if err != nil {
		return err
	}
	return printResponse(resp)
}

// buildParams merges --json with -p pairs. Pair values that parse as JSON
// (numbers, booleans, objects) keep that type; anything else is a string.
func buildParams(pairs []string, rawJSON string) (map[string]any, error) {
	params := map[string]any{}
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &params); err != nil {
			return nil, fmt.Errorf("parsing --json: %w", err)
		}
	}
	for _, p := range pairs {
		key, val, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid param %q: want key=value", p)
		}
		var decoded any
		if err := json.Unmarshal([]byte(val), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = val
		}
	}
	return params, nil
}

func runSend(ctx context.Context, args []string) error {
	var c commonFlags
	fs := newFlagSet("send", &c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("usage: anfd send 'ask:what is the weather'")
	}

	cfg, err := c.load()
	if err != nil {
		return err
	}
	cl := client.New(cfg.Daemon.SocketPath, client.WithTimeout(c.timeout))
	resp, err := cl.Send(ctx, strings.Join(fs.Args(), " "))
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func printResponse(resp protocol.Response) error {
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	fmt.Println(string(out))
	if !resp.OK() {
		return fmt.Errorf("request failed: %s", resp.Error())
	}
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	var c commonFlags
	fs := newFlagSet("health", &c)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}

	if !cfg.Metrics.Enabled {
		// Without the HTTP endpoint a ping over the socket is the health check.
		cl := client.New(cfg.Daemon.SocketPath, client.WithTimeout(c.timeout))
		resp, err := cl.Call(ctx, protocol.Request{Action: protocol.ActionPing})
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		if !resp.OK() {
			return fmt.Errorf("unhealthy: %s", resp.Error())
		}
		fmt.Println("healthy")
		return nil
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Metrics.Addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

func runAgents(ctx context.Context, args []string) error {
	var c commonFlags
	fs := newFlagSet("agents", &c)
	category := fs.String("category", "", "only list agents of this type")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := c.load()
	if err != nil {
		return err
	}

	params := map[string]any{}
	if *category != "" {
		params["category"] = *category
	}
	cl := client.New(cfg.Daemon.SocketPath, client.WithTimeout(c.timeout))
	resp, err := cl.Call(ctx, protocol.Request{Action: protocol.ActionListAgents, Params: params})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("listing agents: %s", resp.Error())
	}

	agents, _ := resp["agents"].([]any)

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, a := range agents {
		desc, _ := a.(map[string]any)
		cyan.Printf("%-20v", desc["id"])
		fmt.Printf(" %-12v", desc["type"])
		gray.Printf(" max=%v priority=%v\n", desc["max_concurrent_tasks"], desc["priority"])
	}
	fmt.Printf("\n%d agents\n", len(agents))
	return nil
}
