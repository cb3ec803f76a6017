// runeheart CLI - checks and runs inventory scripts against a simulated
// world, and serves them to hosts and editors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/runeheart/config"
	"github.com/chazu/runeheart/engine"
	"github.com/chazu/runeheart/registry"
	"github.com/chazu/runeheart/server"
	"github.com/chazu/runeheart/sim"
	"github.com/chazu/runeheart/watch"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: runeheart <command> [options] [args]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	fmt.Fprintf(w, "  check <file>                 Compile a script and print its diagnostics\n")
	fmt.Fprintf(w, "  run [options] [file]         Run ticks against a simulated world\n")
	fmt.Fprintf(w, "  serve [-addr host:port]      Start the script server (Connect, CBOR)\n")
	fmt.Fprintf(w, "  lsp                          Start the language server on stdio\n")
	fmt.Fprintf(w, "\nConfiguration is read from runeheart.toml in the current directory or a parent.\n")
	fmt.Fprintf(w, "\nExamples:\n")
	fmt.Fprintf(w, "  runeheart check scripts/sorter.lua\n")
	fmt.Fprintf(w, "  runeheart run -world world.toml -ticks 5 scripts/sorter.lua\n")
	fmt.Fprintf(w, "  runeheart run -watch -ticks 0        # tick every second until interrupted\n")
	fmt.Fprintf(w, "  runeheart serve -addr :8080\n")
}

// run dispatches a subcommand and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}

	switch args[0] {
	case "check":
		return handleCheck(args[1:], stdout, stderr)
	case "run":
		return handleRun(args[1:], stdout, stderr)
	case "serve":
		return handleServe(args[1:], stderr)
	case "lsp":
		return handleLSP(args[1:], stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", args[0])
		usage(stderr)
		return 2
	}
}

// loadConfig loads the config from dir, or finds one from the working
// directory when dir is empty. Without a file the defaults apply.
func loadConfig(dir string, stderr io.Writer) (*config.Config, bool) {
	var (
		cfg *config.Config
		err error
	)
	if dir != "" {
		cfg, err = config.Load(dir)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return nil, false
	}
	if cfg == nil {
		cfg = config.Default()
	}

	var logFile *string
	if cfg.Log.File != "" {
		f := cfg.Resolve(cfg.Log.File)
		logFile = &f
	}
	commonlog.Configure(cfg.Log.Verbosity, logFile)
	return cfg, true
}

func handleCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configDir := fs.String("config", "", "Directory containing runeheart.toml")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Usage: runeheart check [-config dir] <file>")
		return 2
	}

	cfg, ok := loadConfig(*configDir, stderr)
	if !ok {
		return 1
	}
	c, err := engine.NewContext(cfg.Engine.Options()...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer c.Close()

	u, err := c.Compile(engine.Path(fs.Arg(0)))
	if err != nil {
		var derr *engine.DiagnosticError
		if errors.As(err, &derr) {
			fmt.Fprint(stdout, derr.Report)
		} else {
			fmt.Fprintf(stderr, "Error: %s\n", registry.Render(err))
		}
		return 1
	}
	for _, w := range u.Warnings {
		fmt.Fprintln(stdout, w)
	}
	fmt.Fprintf(stdout, "ok: %s (%s)\n", u.Name, u.Digest()[:12])
	return 0
}

func handleRun(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configDir := fs.String("config", "", "Directory containing runeheart.toml")
	worldPath := fs.String("world", "", "World definition (default from config)")
	ticks := fs.Int("ticks", 1, "Number of ticks to run; 0 runs until interrupted")
	interval := fs.Duration("interval", time.Second, "Delay between ticks")
	watchFlag := fs.Bool("watch", false, "Reload the script when it changes")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, ok := loadConfig(*configDir, stderr)
	if !ok {
		return 1
	}
	scriptPath := cfg.ScriptPath()
	if fs.NArg() > 0 {
		scriptPath = fs.Arg(0)
	}
	wp := cfg.WorldPath()
	if *worldPath != "" {
		wp = *worldPath
	}

	def, err := config.LoadWorld(wp)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	world, err := sim.Open(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer world.Close()
	if err := world.Load(ctx, *def); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	c, err := engine.NewContext(cfg.Engine.Options()...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer c.Close()

	// The watcher reloads from its own goroutine.
	var mu sync.Mutex
	setScript := func(src engine.Source) error {
		mu.Lock()
		defer mu.Unlock()
		return c.SetActiveScript(src)
	}

	if err := setScript(engine.Path(scriptPath)); err != nil {
		fmt.Fprintln(stderr, registry.Render(err))
		return 1
	}

	if *watchFlag || cfg.Script.Watch {
		w, err := watch.New(scriptPath, setScript)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		if err := w.Start(ctx); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		defer w.Stop()
	}

	var seen int64
	for n := 1; *ticks == 0 || n <= *ticks; n++ {
		if n > 1 {
			select {
			case <-ctx.Done():
				return 0
			case <-time.After(*interval):
			}
		}

		entities, handles, err := world.Snapshot(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		mu.Lock()
		v, err := c.Tick(engine.TickInput{Target: world, Handles: handles, Entities: entities})
		mu.Unlock()
		if err != nil {
			fmt.Fprintf(stdout, "tick %d: error: %s\n", n, registry.Render(err))
		} else {
			fmt.Fprintf(stdout, "tick %d: %s\n", n, engine.FormatValue(v))
		}

		moves, err := world.MovesSince(ctx, seen)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		for _, m := range moves {
			fmt.Fprintf(stdout, "  %s\n", m)
			seen = m.ID
		}
	}
	return 0
}

func handleServe(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configDir := fs.String("config", "", "Directory containing runeheart.toml")
	addr := fs.String("addr", "", "Listen address (default from config, :4567)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, ok := loadConfig(*configDir, stderr)
	if !ok {
		return 1
	}
	if *addr == "" {
		*addr = cfg.Server.Addr
	}

	srv, err := server.New(server.WithEngineOptions(cfg.Engine.Options()...))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer srv.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(*addr); err != nil {
		fmt.Fprintf(stderr, "Server error: %v\n", err)
		return 1
	}
	return 0
}

func handleLSP(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("lsp", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configDir := fs.String("config", "", "Directory containing runeheart.toml")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, ok := loadConfig(*configDir, stderr)
	if !ok {
		return 1
	}
	lsp, err := server.NewLSP(cfg.Engine.Options()...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := lsp.Run(); err != nil {
		fmt.Fprintf(stderr, "LSP error: %v\n", err)
		return 1
	}
	return 0
}
