// Command metadedup-km runs a standalone Key Manager, answering blinded
// RSA signature requests over TLS for whichever clouds route segments
// to it.
//
// Usage: metadedup-km <addr> [flags]
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/metadedup/metadedup/internal/keyexchange"
	"github.com/metadedup/metadedup/internal/rsakeys"
	"github.com/metadedup/metadedup/internal/server/km"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: metadedup-km <addr> [flags]")
	}
	addr := args[0]

	fs := flag.NewFlagSet("metadedup-km", flag.ContinueOnError)
	keysDir := fs.String("keys", "keys", "directory holding private.pem and mycert.pem")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	priv, err := rsakeys.LoadPrivateKey(*keysDir)
	if err != nil {
		return fmt.Errorf("metadedup-km: load private key: %w", err)
	}
	tlsCfg, err := rsakeys.LoadServerTLSConfig(*keysDir)
	if err != nil {
		return fmt.Errorf("metadedup-km: load TLS config: %w", err)
	}

	signer := keyexchange.NewSigner(priv)
	srv := km.New(signer, tlsCfg)
	if err := srv.ListenAndServe(addr); err != nil {
		return fmt.Errorf("metadedup-km: %w", err)
	}
	return nil
}
