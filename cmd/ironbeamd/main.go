// Command ironbeamd is a minimal demo binary standing in for the
// out-of-scope cluster launcher: it loads one module image, spawns a
// {module, function} entry point, and waits for either that process to
// exit or an interrupt signal. It deliberately does not grow into a full
// launcher (argument grammar, cluster-directory-daemon management stay
// external).
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/logiface"
	ironbeam "github.com/yenrab/iron-beam"
	"github.com/yenrab/iron-beam/internal/obslog"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ironbeamd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("ironbeamd", flag.ExitOnError)
	var (
		modulePath = fs.String("module", "", "path to a chunked module image (required)")
		moduleName = fs.String("name", "main", "name to publish the module under")
		function   = fs.String("function", "start", "entry function name, arity 0")
		schedulers = fs.Int("schedulers", 0, "scheduler thread count (0 = auto)")
		verbose    = fs.Bool("v", false, "enable info-level logging to stderr")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *modulePath == "" {
		return fmt.Errorf("-module is required")
	}

	image, err := os.ReadFile(*modulePath)
	if err != nil {
		return fmt.Errorf("reading module image: %w", err)
	}

	opts := []ironbeam.Option{ironbeam.WithSchedulerCount(*schedulers)}
	if *verbose {
		handler := slog.NewTextHandler(os.Stderr, nil)
		opts = append(opts, ironbeam.WithLogger(obslog.New(handler, logiface.LevelInformational)))
	}

	h, err := ironbeam.Initialize(opts...)
	if err != nil {
		return fmt.Errorf("initializing runtime: %w", err)
	}

	if err := h.LoadModule(*moduleName, image); err != nil {
		return fmt.Errorf("loading module: %w", err)
	}
	if err := h.Start(); err != nil {
		return fmt.Errorf("starting runtime: %w", err)
	}

	pid, err := h.SpawnInitial(*moduleName, *function, nil)
	if err != nil {
		status := h.Shutdown()
		return fmt.Errorf("spawning initial process: %w (shutdown: %s)", err, status.Reason)
	}
	fmt.Printf("ironbeamd: spawned pid %d, running %s:%s/0\n", pid, *moduleName, *function)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		for {
			if _, ok := h.Procs.Lookup(pid); !ok {
				close(done)
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	select {
	case <-done:
		fmt.Println("ironbeamd: initial process exited")
	case <-sig:
		fmt.Println("ironbeamd: interrupted, shutting down")
	}

	status := h.Shutdown()
	fmt.Printf("ironbeamd: shutdown complete, reason=%s\n", status.Reason)
	return nil
}
