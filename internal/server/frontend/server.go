// Package frontend implements the per-cloud server: three listeners
// (meta, data, TLS KM) each spawning one handler goroutine per
// connection, dispatching into the meta and data DedupCore instances.
package frontend

import (
	"fmt"
	"io"
	"log"
	"net"

	"github.com/metadedup/metadedup/internal/constants"
	"github.com/metadedup/metadedup/internal/server/dedup"
	"github.com/metadedup/metadedup/internal/server/km"
	"github.com/metadedup/metadedup/internal/wire"
)

// Server owns one cloud's meta and data dedup engines and accepts
// connections for both sub-protocols. The KM listener (if this cloud
// hosts one) is started separately by the caller via km.Server, since it
// runs its own TLS accept loop independent of the meta/data ports.
type Server struct {
	MetaCore *dedup.DedupCore
	DataCore *dedup.DedupCore
	// ShareFPSize is the fingerprint width this cloud's security level
	// uses (32 for HIGH/SHA-256, 16 for LOW/MD5), needed to split the
	// flat MetaNode array out of a META payload.
	ShareFPSize int
}

// ListenAndServe runs the meta and data listeners until one of them
// fails; the first error is returned.
func (s *Server) ListenAndServe(metaAddr, dataAddr string) error {
	errCh := make(chan error, 2)

	go func() { errCh <- s.serve(metaAddr, s.handleMetaConn) }()
	go func() { errCh <- s.serve(dataAddr, s.handleDataConn) }()
	return <-errCh
}

func (s *Server) serve(addr string, handle func(net.Conn)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("frontend: listen on %s failed: %w", addr, err)
	}
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("frontend: accept on %s failed: %w", addr, err)
		}
		go handle(conn)
	}
}

// ListenAndServeKMTLS is a convenience wrapper for clouds that also host
// this deployment's Key Manager, run on its own TLS port.
func ListenAndServeKMTLS(addr string, server *km.Server) error {
	return server.ListenAndServe(addr)
}

func (s *Server) handleMetaConn(conn net.Conn) {
	defer conn.Close()
	userID, err := wire.ReadUserID(conn)
	if err != nil {
		log.Printf("frontend: meta conn: read userID: %v", err)
		return
	}

	for {
		ind, err := wire.ReadIndicator(conn)
		if err != nil {
			if err != io.EOF {
				log.Printf("frontend: meta conn user %d: read indicator: %v", userID, err)
			}
			return
		}
		switch ind {
		case constants.IndicatorMeta:
			if err := s.handleUploadRound(conn, s.MetaCore, int32(userID)); err != nil {
				log.Printf("frontend: meta conn user %d: upload round: %v", userID, err)
				return
			}
		case constants.IndicatorInitRequest:
			if err := s.handleInitRequest(conn, int32(userID)); err != nil {
				log.Printf("frontend: meta conn user %d: init request: %v", userID, err)
				return
			}
		default:
			log.Printf("frontend: meta conn user %d: unexpected indicator %d", userID, ind)
			return
		}
	}
}

func (s *Server) handleDataConn(conn net.Conn) {
	defer conn.Close()
	userID, err := wire.ReadUserID(conn)
	if err != nil {
		log.Printf("frontend: data conn: read userID: %v", err)
		return
	}

	for {
		ind, err := wire.ReadIndicator(conn)
		if err != nil {
			if err != io.EOF {
				log.Printf("frontend: data conn user %d: read indicator: %v", userID, err)
			}
			return
		}
		switch ind {
		case constants.IndicatorMeta:
			if err := s.handleUploadRound(conn, s.DataCore, int32(userID)); err != nil {
				log.Printf("frontend: data conn user %d: upload round: %v", userID, err)
				return
			}
		case constants.IndicatorDownload:
			if err := s.handleDownloadRequest(conn, int32(userID)); err != nil {
				log.Printf("frontend: data conn user %d: download request: %v", userID, err)
				return
			}
		default:
			log.Printf("frontend: data conn user %d: unexpected indicator %d", userID, ind)
			return
		}
	}
}

// handleUploadRound services one META/STAT/DATA exchange, mirroring
// uploader.Uploader.sendContainer byte-for-byte. The caller has already
// consumed the META(-1) indicator.
func (s *Server) handleUploadRound(conn net.Conn, core *dedup.DedupCore, userID int32) error {
	metaPayload, err := wire.ReadBytes(conn)
	if err != nil {
		return fmt.Errorf("read META payload: %w", err)
	}
	head, err := unmarshalFileHead(metaPayload, s.ShareFPSize)
	if err != nil {
		return fmt.Errorf("parse META payload: %w", err)
	}

	dup, _, err := core.FirstStage(userID, head.Entries)
	if err != nil {
		return fmt.Errorf("first stage: %w", err)
	}

	if err := wire.WriteStatFrame(conn, wire.StatFrame{Duplicate: dup}); err != nil {
		return fmt.Errorf("write STAT: %w", err)
	}

	dataInd, err := wire.ReadIndicator(conn)
	if err != nil {
		return fmt.Errorf("read DATA indicator: %w", err)
	}
	if dataInd != constants.IndicatorData {
		return fmt.Errorf("expected DATA indicator, got %d", dataInd)
	}
	dataFrame, err := wire.ReadDataFrameBody(conn)
	if err != nil {
		return fmt.Errorf("read DATA body: %w", err)
	}

	bodies, err := splitBodies(dataFrame.Payload, head.Entries, dup)
	if err != nil {
		return fmt.Errorf("split DATA payload: %w", err)
	}

	if len(head.Entries) > 0 || dataFrame.MetaEnd {
		if err := core.SecondStage(userID, head.Path, dup, head.Entries, bodies); err != nil {
			return fmt.Errorf("second stage: %w", err)
		}
	}
	return nil
}

// splitBodies slices the concatenated non-duplicate payload back into
// per-entry bodies, in entry order, using each entry's ShareSize.
func splitBodies(payload []byte, entries []dedup.ShareMeta, dup []bool) ([][]byte, error) {
	var bodies [][]byte
	off := 0
	for i, e := range entries {
		if dup[i] {
			continue
		}
		size := int(e.ShareSize)
		if off+size > len(payload) {
			return nil, fmt.Errorf("payload too short for entry %d: need %d more bytes, have %d", i, size, len(payload)-off)
		}
		bodies = append(bodies, payload[off:off+size])
		off += size
	}
	if off != len(payload) {
		return nil, fmt.Errorf("payload has %d trailing bytes after %d non-duplicate entries", len(payload)-off, len(bodies))
	}
	return bodies, nil
}
