// Package rsakeys loads the RSA key material and TLS certificate used by
// the Key Manager and its clients from a keys/ directory: public.pem,
// private.pem (KM only), and mycert.pem.
package rsakeys

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/metadedup/metadedup/internal/keyexchange"
)

// LoadPublicKey reads an RSA public key in PEM/PKCS1 or PKIX form from dir/public.pem.
func LoadPublicKey(dir string) (*keyexchange.PublicKey, error) {
	pub, err := readPublicKey(filepath.Join(dir, "public.pem"))
	if err != nil {
		return nil, err
	}
	return keyexchange.NewPublicKey(pub)
}

// LoadPrivateKey reads an RSA private key in PEM/PKCS1 form from dir/private.pem.
func LoadPrivateKey(dir string) (*keyexchange.PrivateKey, error) {
	priv, err := readPrivateKey(filepath.Join(dir, "private.pem"))
	if err != nil {
		return nil, err
	}
	return keyexchange.NewPrivateKey(priv)
}

// LoadServerTLSConfig builds a tls.Config for a KM listener from
// dir/mycert.pem and dir/private.pem (reused as the TLS key pair).
func LoadServerTLSConfig(dir string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(filepath.Join(dir, "mycert.pem"), filepath.Join(dir, "private.pem"))
	if err != nil {
		return nil, fmt.Errorf("rsakeys: load TLS key pair failed: %w", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// LoadClientTLSConfig builds a tls.Config trusting dir/mycert.pem as the
// sole root, for clients dialing a KM that presents a self-signed cert.
func LoadClientTLSConfig(dir string) (*tls.Config, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "mycert.pem"))
	if err != nil {
		return nil, fmt.Errorf("rsakeys: read mycert.pem failed: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(raw) {
		return nil, fmt.Errorf("rsakeys: mycert.pem contains no usable certificate")
	}
	return &tls.Config{RootCAs: pool}, nil
}

func readPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("rsakeys: parse public key %s failed: %w", path, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("rsakeys: %s does not contain an RSA public key", path)
	}
	return rsaPub, nil
}

func readPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEMBlock(path)
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("rsakeys: parse private key %s failed: %w", path, err)
	}
	return key, nil
}

func readPEMBlock(path string) (*pem.Block, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rsakeys: read %s failed: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("rsakeys: %s contains no PEM block", path)
	}
	return block, nil
}
