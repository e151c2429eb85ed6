// Command metadedup-client is the one-shot backup/restore CLI:
// prog <filename> <userID:int> -u|-d HIGH|LOW [flags].
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/metadedup/metadedup/internal/config"
	"github.com/metadedup/metadedup/internal/constants"
	"github.com/metadedup/metadedup/internal/erasure"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cliArgs mirrors the fixed positional invocation plus the extra flags
// this deployment needs (endpoint topology, codec) that the original
// left to an external config file.
type cliArgs struct {
	filename   string
	userID     int32
	download   bool
	level      constants.SecurityLevel
	configPath string
	keysDir    string
	numClouds  int
	parity     int
	variant    erasure.Variant
	dynamic    bool
	verifyKM   bool
}

func parseArgs(args []string) (cliArgs, error) {
	if len(args) < 4 {
		return cliArgs{}, fmt.Errorf("usage: metadedup-client <filename> <userID> -u|-d HIGH|LOW [flags]")
	}

	filename := args[0]
	userID, err := strconv.ParseInt(args[1], 10, 32)
	if err != nil {
		return cliArgs{}, fmt.Errorf("invalid userID %q: %w", args[1], err)
	}

	var download bool
	switch args[2] {
	case "-u":
		download = false
	case "-d":
		download = true
	default:
		return cliArgs{}, fmt.Errorf("expected -u or -d, got %q", args[2])
	}

	var level constants.SecurityLevel
	switch args[3] {
	case "HIGH":
		level = constants.High
	case "LOW":
		level = constants.Low
	default:
		return cliArgs{}, fmt.Errorf("expected HIGH or LOW, got %q", args[3])
	}

	fs := flag.NewFlagSet("metadedup-client", flag.ContinueOnError)
	configPath := fs.String("config", "config", "path to the endpoint topology file")
	keysDir := fs.String("keys", "keys", "directory holding KM public keys (keys/km<i>/public.pem)")
	numClouds := fs.Int("n", 5, "number of storage clouds N")
	parity := fs.Int("m", 1, "erasure parity count")
	codecName := fs.String("codec", "caontrs", "erasure codec variant: caontrs|oldcaontrs|aontrs|crsss")
	dynamic := fs.Bool("dynamic-km", true, "route segments to KM by min-hash instead of always KM #0")
	verifyKM := fs.Bool("verify-km", false, "verify the KM's blind-signature response before trusting it")
	if err := fs.Parse(args[4:]); err != nil {
		return cliArgs{}, err
	}

	variant, err := parseVariant(*codecName)
	if err != nil {
		return cliArgs{}, err
	}

	return cliArgs{
		filename:   filename,
		userID:     int32(userID),
		download:   download,
		level:      level,
		configPath: *configPath,
		keysDir:    *keysDir,
		numClouds:  *numClouds,
		parity:     *parity,
		variant:    variant,
		dynamic:    *dynamic,
		verifyKM:   *verifyKM,
	}, nil
}

func parseVariant(name string) (erasure.Variant, error) {
	switch name {
	case "caontrs":
		return erasure.CAONTRS, nil
	case "oldcaontrs":
		return erasure.OldCAONTRS, nil
	case "aontrs":
		return erasure.AONTRS, nil
	case "crsss":
		return erasure.CRSSS, nil
	default:
		return 0, fmt.Errorf("unknown codec variant %q", name)
	}
}

func run(args []string) error {
	a, err := parseArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(a.configPath, a.numClouds)
	if err != nil {
		return fmt.Errorf("metadedup-client: %w", err)
	}

	policy := constants.Static
	if a.dynamic {
		policy = constants.Dynamic
	}

	start := time.Now()
	phase := "upload"
	if a.download {
		phase = "download"
		if err := runDownload(a, cfg, policy); err != nil {
			return fmt.Errorf("metadedup-client: %w", err)
		}
	} else {
		if err := runUpload(a, cfg, policy); err != nil {
			return fmt.Errorf("metadedup-client: %w", err)
		}
	}

	fmt.Printf("%s: %s time is %.3fs\n", a.filename, phase, time.Since(start).Seconds())
	return nil
}
