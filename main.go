// main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/petervdpas/goopchat/internal/app"
	"github.com/petervdpas/goopchat/internal/relay"
)

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
	noPrompt = flag.Bool("no-prompt", false, "Do not ask for settings when creating a new profile")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("goopchat v%s\n", appVersion)
		return
	}

	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	switch command := args[0]; command {
	case "client":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: client command requires a profile directory")
			fmt.Fprintln(os.Stderr, "Usage: goopchat client <profile-directory>")
			os.Exit(1)
		}
		runClient(args[1])

	case "relay":
		addr := ""
		if len(args) > 1 {
			addr = args[1]
		}
		runRelay(addr)

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command '%s'\n", command)
		fmt.Fprintln(os.Stderr)
		showUsage()
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		log.Println("Shutting down gracefully...")
		cancel()
	}()
	return ctx, cancel
}

func runClient(dirArg string) {
	absDir, err := filepath.Abs(dirArg)
	if err != nil {
		log.Fatalf("Invalid profile directory: %v", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		log.Fatalf("Create profile directory: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := app.Run(ctx, app.Options{
		Dir:         absDir,
		Interactive: !*noPrompt,
		In:          os.Stdin,
		Out:         os.Stdout,
	}); err != nil {
		log.Fatalf("Client failed: %v", err)
	}
}

func runRelay(addrArg string) {
	addr, wsURL := app.NormalizeRelayAddr(addrArg)

	srv := relay.New(relay.Options{})
	hs := &http.Server{
		Addr:              addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		<-ctx.Done()
		srv.Close()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = hs.Shutdown(shutdownCtx)
	}()

	fmt.Println("────────────────────────────────────────────────────────")
	fmt.Printf("Relay listening on %s\n", addr)
	fmt.Printf("Clients connect to %s\n", wsURL)
	fmt.Printf("Metrics at        %s\n", "http"+strings.TrimSuffix(strings.TrimPrefix(wsURL, "ws"), "/socket")+"/metrics")
	fmt.Println("────────────────────────────────────────────────────────")

	if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Relay failed: %v", err)
	}
}

func showUsage() {
	fmt.Println("goopchat - chat, calls and games over a websocket relay")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  goopchat client <directory>   Log in with the profile in <directory>")
	fmt.Println("  goopchat relay [addr]         Run the development relay (default :8788)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  client <directory>")
	fmt.Println("        Reads goopchat.json from the directory, creating it when missing,")
	fmt.Println("        and takes commands on stdin (/help lists them)")
	fmt.Println()
	fmt.Println("  relay [addr]")
	fmt.Println("        Routes events between clients and serves /metrics")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h          Show this help message")
	fmt.Println("  -version    Show version information")
	fmt.Println("  -no-prompt  Keep defaults when creating a profile")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  goopchat relay :8788")
	fmt.Println("  goopchat client ./profiles/alice")
}
