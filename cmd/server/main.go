package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/cipherchat/cipherchat/internal/crypto"
	"github.com/cipherchat/cipherchat/internal/server"
)

func main() {
	configPath := pflag.StringP("config", "c", "cipherchat.yaml", "path of the YAML config file")
	listenAddr := pflag.StringP("listen", "l", "", "TCP listen address (overrides config)")
	httpAddr := pflag.String("http", "", "WebSocket gateway address (overrides config)")
	keyFile := pflag.StringP("key", "k", "", "path of the pre-shared key file (overrides config)")
	pflag.Parse()

	fmt.Println("Starting cipherchat relay...")

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.ApplyEnv()
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *httpAddr != "" {
		cfg.HTTPAddr = *httpAddr
	}
	if *keyFile != "" {
		cfg.KeyFile = *keyFile
	}

	key, err := crypto.LoadKey(cfg.KeyFile)
	if err != nil {
		log.Fatalf("Failed to load key (run cipherchat-keygen first?): %v", err)
	}
	cipher, err := crypto.New(key)
	if err != nil {
		log.Fatalf("Failed to initialize cipher: %v", err)
	}

	srv := server.NewServer(cfg, cipher)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	if err := srv.Shutdown(0); err != nil {
		log.Printf("Shutdown finished with error: %v", err)
		os.Exit(1)
	}
}
