package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeolun/surge/pkg/auth"
	"github.com/aeolun/surge/pkg/directory"
	"github.com/aeolun/surge/pkg/gateway"
	"github.com/aeolun/surge/pkg/stream"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	// Configure logger with microsecond precision
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	// Command line flags
	configPath := flag.String("config", "~/.surge/config.toml", "Path to config file")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	pprofAddr := flag.String("pprof", "", "Serve pprof on this address (e.g. localhost:6060)")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Surge Gateway %s\n", Version)
		os.Exit(0)
	}

	// Load configuration (creates default if not found)
	config, err := gateway.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Command-line flags override config file
	if *listenAddr != "" {
		config.Gateway.ListenAddr = *listenAddr
	}

	secret := config.JWTSecret()
	if secret == "" {
		log.Fatal("No JWT secret configured (set auth.jwt_secret or SURGE_JWT_SECRET)")
	}
	verifier, err := auth.NewVerifier([]byte(secret))
	if err != nil {
		log.Fatalf("Failed to create token verifier: %v", err)
	}

	dir := directory.NewRedis(config.Directory.RedisAddr, config.Directory.RedisDB, config.Directory.KeyPrefix)
	defer dir.Close()

	metrics := gateway.NewMetrics()

	source, err := stream.Connect(stream.Config{
		URL:     config.Stream.URL,
		Subject: config.Stream.Subject,
		Name:    config.Stream.Name,
	}, metrics.RecordEventDropped)
	if err != nil {
		log.Fatalf("Failed to connect to event stream: %v", err)
	}

	gw := gateway.New(config.ToGatewayConfig(), verifier, dir, source)
	gw.SetMetrics(metrics)

	if *debug {
		gw.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	if *pprofAddr != "" {
		go func() {
			log.Printf("Starting pprof server on http://%s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	if err := gw.Start(); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}

	log.Printf("Surge gateway %s started successfully", Version)
	log.Printf("Listening on %s", gw.Addr())
	log.Printf("Event stream: %s (%s)", config.Stream.URL, config.Stream.Subject)

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("Shutting down (draining outbound queues)...")
	if err := gw.Stop(); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Printf("Gateway stopped")
}
