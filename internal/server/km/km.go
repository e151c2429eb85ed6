// Package km implements the Key Manager's TLS-facing network handler: it
// reads batches of blinded values off a connection, signs them with
// keyexchange.Signer, and writes the signed batch back.
package km

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"

	"github.com/metadedup/metadedup/internal/constants"
	"github.com/metadedup/metadedup/internal/keyexchange"
)

// Server serves blind-signature requests over TLS.
type Server struct {
	signer *keyexchange.Signer
	tlsCfg *tls.Config
}

// New builds a Server wrapping signer and authenticating with tlsCfg.
func New(signer *keyexchange.Signer, tlsCfg *tls.Config) *Server {
	return &Server{signer: signer, tlsCfg: tlsCfg}
}

// ListenAndServe accepts TLS connections on addr and handles each in its
// own goroutine until the listener is closed.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := tls.Listen("tcp", addr, s.tlsCfg)
	if err != nil {
		return fmt.Errorf("km: listen on %s failed: %w", addr, err)
	}
	defer ln.Close()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("km: accept failed: %w", err)
		}
		go s.handle(conn)
	}
}

// handle services one connection until the client sends ExitKMThread or
// closes the connection.
func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	for {
		var numBuf [4]byte
		if _, err := io.ReadFull(conn, numBuf[:]); err != nil {
			if err != io.EOF {
				log.Printf("km: read batch count: %v", err)
			}
			return
		}
		num := int32(binary.LittleEndian.Uint32(numBuf[:]))

		if num == constants.ExitKMThread {
			return
		}
		if num < 0 {
			log.Printf("km: rejecting negative batch count %d", num)
			return
		}

		payload := make([]byte, int(num)*constants.RSAModulusBytes)
		if _, err := io.ReadFull(conn, payload); err != nil {
			log.Printf("km: read batch payload: %v", err)
			return
		}

		exit, out, err := s.signer.SignBatch(num, payload)
		if exit {
			return
		}
		if err != nil {
			log.Printf("km: sign batch: %v", err)
			return
		}
		if _, err := conn.Write(out); err != nil {
			log.Printf("km: write signed batch: %v", err)
			return
		}
	}
}

// DialTransport dials a KM at addr over TLS and returns a
// keyexchange.Transport that sends one blinded value per round trip.
func DialTransport(addr string, tlsCfg *tls.Config) (keyexchange.Transport, func() error, error) {
	conn, err := tls.Dial("tcp", addr, tlsCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("km: dial %s failed: %w", addr, err)
	}

	send := func(blinded []byte) ([]byte, error) {
		var numBuf [4]byte
		binary.LittleEndian.PutUint32(numBuf[:], 1)
		if _, err := conn.Write(numBuf[:]); err != nil {
			return nil, fmt.Errorf("km: write batch count: %w", err)
		}
		if _, err := conn.Write(blinded); err != nil {
			return nil, fmt.Errorf("km: write blinded value: %w", err)
		}
		resp := make([]byte, constants.RSAModulusBytes)
		if _, err := io.ReadFull(conn, resp); err != nil {
			return nil, fmt.Errorf("km: read signed value: %w", err)
		}
		return resp, nil
	}

	closeFn := func() error {
		var numBuf [4]byte
		binary.LittleEndian.PutUint32(numBuf[:], uint32(constants.ExitKMThread))
		conn.Write(numBuf[:])
		return conn.Close()
	}
	return send, closeFn, nil
}
