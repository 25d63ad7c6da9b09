package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/helix-labs/helix/chain"
	"github.com/helix-labs/helix/config"
	"github.com/helix-labs/helix/crypto"
	"github.com/helix-labs/helix/network"
	"github.com/helix-labs/helix/node"
	"github.com/helix-labs/helix/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if cfg.GenesisFile == "" {
		log.Fatal("no genesis file configured, set GENESIS_FILE or HELIX_GENESIS_FILE")
	}
	gen, err := chain.LoadGenesisFile(cfg.GenesisFile)
	if err != nil {
		log.WithError(err).Fatal("failed to load genesis file")
	}

	operatorKey := loadOperatorKey(cfg)

	db, err := store.NewDatabase(cfg.DataDir)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	st, err := store.NewStore(db)
	if err != nil {
		log.WithError(err).Fatal("failed to open store")
	}

	n, err := node.NewNode(cfg, st, gen, operatorKey)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize node")
	}
	if err := n.Start(); err != nil {
		log.WithError(err).Fatal("failed to start node")
	}

	router := network.NewRouter(n, cfg.JWTSecret)
	router.Start()

	server := &http.Server{
		Addr:    cfg.RPCAddr,
		Handler: router.SetupRoutes(),
	}
	go func() {
		log.WithField("addr", cfg.RPCAddr).Info("RPC gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("gateway server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("gateway shutdown failed")
	}
	router.Stop()
	if err := n.Stop(); err != nil {
		log.WithError(err).Warn("node shutdown failed")
	}
	if err := st.Close(); err != nil {
		log.WithError(err).Warn("store close failed")
	}
}

// loadOperatorKey reads the signing key named in the config. Without a
// key file the node runs as an observer: it follows and serves the
// chain but neither proposes nor votes.
func loadOperatorKey(cfg *config.Config) crypto.PrivateKey {
	if cfg.KeyFile == "" {
		log.Info("no key file configured, running as observer")
		return nil
	}

	var (
		key crypto.PrivateKey
		err error
	)
	if cfg.KeyPassphrase != "" {
		key, err = crypto.LoadEncryptedPrivateKey(cfg.KeyFile, cfg.KeyPassphrase)
	} else {
		key, err = crypto.LoadPrivateKey(cfg.KeyFile)
	}
	if err != nil {
		log.WithError(err).Fatal("failed to load operator key")
	}

	addr, err := key.PublicKey().Address()
	if err != nil {
		log.WithError(err).Fatal("failed to derive operator address")
	}
	log.WithField("address", addr.String()).Info("operator key loaded")
	return key
}
