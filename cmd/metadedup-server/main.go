// Command metadedup-server runs one cloud's meta and data listeners, and
// optionally its Key Manager, for the lifetime of the process.
//
// Usage: metadedup-server <cloudIndex> [flags]
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/metadedup/metadedup/internal/config"
	"github.com/metadedup/metadedup/internal/constants"
	"github.com/metadedup/metadedup/internal/keyexchange"
	"github.com/metadedup/metadedup/internal/rsakeys"
	"github.com/metadedup/metadedup/internal/server/dedup"
	"github.com/metadedup/metadedup/internal/server/frontend"
	"github.com/metadedup/metadedup/internal/server/km"
	"github.com/metadedup/metadedup/internal/server/kvstore"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: metadedup-server <cloudIndex> [flags]")
	}
	cloudIndex, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid cloudIndex %q: %w", args[0], err)
	}

	fs := flag.NewFlagSet("metadedup-server", flag.ContinueOnError)
	configPath := fs.String("config", "config", "path to the endpoint topology file")
	keysDir := fs.String("keys", "keys", "directory holding this cloud's KM key material, if it hosts one")
	numClouds := fs.Int("n", 5, "number of storage clouds N")
	dataDir := fs.String("data", "data", "root directory for this cloud's on-disk state")
	hostKM := fs.Bool("km", false, "this cloud also runs the Key Manager")
	levelName := fs.String("level", "HIGH", "deployment-wide security level, HIGH or LOW (fixes the share fingerprint width)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	var level constants.SecurityLevel
	switch *levelName {
	case "HIGH":
		level = constants.High
	case "LOW":
		level = constants.Low
	default:
		return fmt.Errorf("metadedup-server: expected HIGH or LOW, got %q", *levelName)
	}

	cfg, err := config.Load(*configPath, *numClouds)
	if err != nil {
		return fmt.Errorf("metadedup-server: %w", err)
	}
	if cloudIndex < 0 || cloudIndex >= len(cfg.DataAddrs) {
		return fmt.Errorf("metadedup-server: cloudIndex %d out of range (%d clouds)", cloudIndex, len(cfg.DataAddrs))
	}

	root := filepath.Join(*dataDir, fmt.Sprintf("cloud%d", cloudIndex))
	metaCore, err := openCore(filepath.Join(root, "meta"), dedup.Config{
		ContainerCapacity: constants.ShareContainerCapacity,
		RecipeCapacity:    constants.RecipeBufferCapacity,
		MaxBufferWait:     constants.MaxBufferWait,
		CachedContainers:  constants.NumCachedContainers,
	})
	if err != nil {
		return fmt.Errorf("metadedup-server: open meta core: %w", err)
	}
	defer metaCore.Close()

	// minDedupCore: the data service stores far more, far larger shares
	// than the meta service's packed MetaChunks, so it runs with a
	// quarter of the meta service's buffering and cache footprint.
	dataCore, err := openCore(filepath.Join(root, "data"), dedup.Config{
		ContainerCapacity: constants.ShareContainerCapacity / 4,
		RecipeCapacity:    constants.RecipeBufferCapacity / 4,
		MaxBufferWait:     constants.MaxBufferWait,
		CachedContainers:  constants.NumCachedContainers / 4,
	})
	if err != nil {
		return fmt.Errorf("metadedup-server: open data core: %w", err)
	}
	defer dataCore.Close()

	srv := &frontend.Server{
		MetaCore:    metaCore,
		DataCore:    dataCore,
		ShareFPSize: level.HashSize(),
	}

	errCh := make(chan error, 2)
	go func() { errCh <- srv.ListenAndServe(cfg.MetaAddrs[cloudIndex], cfg.DataAddrs[cloudIndex]) }()

	if *hostKM {
		kmServer, err := buildKM(*keysDir)
		if err != nil {
			return fmt.Errorf("metadedup-server: build KM: %w", err)
		}
		kmIndex := cloudIndex
		if kmIndex >= len(cfg.KMAddrs) {
			return fmt.Errorf("metadedup-server: cloud %d has no matching KM endpoint", cloudIndex)
		}
		go func() { errCh <- frontend.ListenAndServeKMTLS(cfg.KMAddrs[kmIndex], kmServer) }()
	}

	return <-errCh
}

func openCore(dir string, cfg dedup.Config) (*dedup.DedupCore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	store, err := kvstore.Open(filepath.Join(dir, "index.db"), "shares", "inodes")
	if err != nil {
		return nil, err
	}
	return dedup.New(store, filepath.Join(dir, "recipes"), filepath.Join(dir, "containers"), cfg)
}

func buildKM(keysDir string) (*km.Server, error) {
	priv, err := rsakeys.LoadPrivateKey(keysDir)
	if err != nil {
		return nil, fmt.Errorf("load private key: %w", err)
	}
	signer := keyexchange.NewSigner(priv)
	tlsCfg, err := rsakeys.LoadServerTLSConfig(keysDir)
	if err != nil {
		return nil, fmt.Errorf("load TLS config: %w", err)
	}
	return km.New(signer, tlsCfg), nil
}
