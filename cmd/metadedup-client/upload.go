package main

import (
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/metadedup/metadedup/internal/chunker"
	"github.com/metadedup/metadedup/internal/client/uploader"
	"github.com/metadedup/metadedup/internal/config"
	"github.com/metadedup/metadedup/internal/constants"
	"github.com/metadedup/metadedup/internal/dispatch"
	"github.com/metadedup/metadedup/internal/hasher"
	"github.com/metadedup/metadedup/internal/keyexchange"
	"github.com/metadedup/metadedup/internal/pipeline"
	"github.com/metadedup/metadedup/internal/rsakeys"
	"github.com/metadedup/metadedup/internal/segment"
	"github.com/metadedup/metadedup/internal/server/km"
	"github.com/metadedup/metadedup/internal/wire"
)

// runUpload drives the staged concurrent pipeline for one file: a
// hashing worker pool, a single segmentation/key-exchange stage, an
// encoding worker pool, a single collector stage, and finally one
// uploader goroutine per cloud per sub-stream. Stages are wired with
// bounded pipeline.Queues; a stage announces end-of-stream by closing
// its output queue once its input queue is closed and drained, the
// sticky "done flag plus drain" the pipeline is built around. A failing
// stage records the first error and keeps draining rather than
// unwinding early: there is no cooperative cancellation here, so the
// goal is just to avoid leaving an upstream stage blocked pushing into
// a queue nobody is still reading.
func runUpload(a cliArgs, cfg *config.Config, policy constants.KMPolicy) error {
	f, err := os.Open(a.filename)
	if err != nil {
		return fmt.Errorf("open %s: %w", a.filename, err)
	}
	defer f.Close()

	ck, err := chunker.New(f, chunker.Config{
		Mode:         chunker.Variable,
		MinChunkSize: constants.DefaultMinChunkSize,
		AvgChunkSize: constants.DefaultAvgChunkSize,
		MaxChunkSize: constants.DefaultMaxChunkSize,
	})
	if err != nil {
		return fmt.Errorf("build chunker: %w", err)
	}

	h := hasher.New(a.level)
	seg := segment.New(segment.DefaultConfig())

	pubKeys, err := loadKMPublicKeys(a.keysDir, len(cfg.KMAddrs))
	if err != nil {
		return err
	}
	keClient, err := keyexchange.NewClient(pubKeys, 4096)
	if err != nil {
		return fmt.Errorf("build key-exchange client: %w", err)
	}
	router := segment.NewKeyRouter(keClient, policy, a.level.HashSize(), len(cfg.KMAddrs), a.verifyKM)

	kmConns := newKMDialer(cfg.KMAddrs, a.keysDir)
	defer kmConns.closeAll()

	encoder, err := dispatch.NewEncoder(a.variant, a.level, a.numClouds, a.parity)
	if err != nil {
		return fmt.Errorf("build encoder: %w", err)
	}
	collector := dispatch.NewCollector(a.numClouds, h)

	var failOnce sync.Once
	var stageErr error
	fail := func(err error) { failOnce.Do(func() { stageErr = err }) }

	hashIn := pipeline.NewQueue(2 * constants.HashWorkers)
	hashOut := pipeline.NewQueue(2 * constants.HashWorkers)
	encodeIn := pipeline.NewQueue(2 * constants.EncodeWorkers)
	encodeOut := pipeline.NewQueue(2 * constants.EncodeWorkers)

	var stages sync.WaitGroup
	stages.Add(4)

	// Stage: hashing worker pool (KEYEX_NUM_THREADS in the original).
	go func() {
		defer stages.Done()
		pipeline.FanOut(hashIn, hashOut, constants.HashWorkers, func(r pipeline.Record) pipeline.Record {
			c := r.Payload.(*chunker.Chunk)
			h.HashChunk(c)
			return pipeline.Record{Seq: r.Seq, Payload: c}
		})
	}()

	// Stage: segmentation + key exchange, a single thread consuming the
	// hash stage's reassembled order and feeding the encoder stage with
	// an explicit, strictly increasing secret_id per chunk (assigning it
	// here, not inside the encoder, is what keeps the encode worker pool
	// safe to run concurrently below).
	go func() {
		defer stages.Done()
		var nextSecretID int64
		var encSeq uint64
		for rec, ok := hashOut.Pop(); ok; rec, ok = hashOut.Pop() {
			c := rec.Payload.(*chunker.Chunk)
			ready, segChunks, minFP, err := seg.Add(c)
			if err != nil {
				fail(fmt.Errorf("segment: %w", err))
				continue
			}
			if !ready {
				continue
			}
			if err := router.Route(segChunks, minFP, kmConns.sendFor); err != nil {
				fail(fmt.Errorf("key exchange: %w", err))
				continue
			}
			for _, sc := range segChunks {
				nextSecretID++
				encodeIn.Push(pipeline.Record{Seq: encSeq, Payload: encodeJob{secretID: nextSecretID, chunk: sc}})
				encSeq++
			}
		}
		encodeIn.Close()
	}()

	// Stage: CAONT+RS encoding worker pool (NUM_THREADS in the
	// original), with share hashing folded into Encoder.Encode itself.
	go func() {
		defer stages.Done()
		pipeline.FanOut(encodeIn, encodeOut, constants.EncodeWorkers, func(r pipeline.Record) pipeline.Record {
			job := r.Payload.(encodeJob)
			ec, err := encoder.Encode(job.secretID, job.chunk, false)
			if err != nil {
				return pipeline.Record{Seq: r.Seq, Err: fmt.Errorf("encode chunk: %w", err)}
			}
			return pipeline.Record{Seq: r.Seq, Payload: ec}
		})
	}()

	// Stage: collector, single thread (per-segment rotation and
	// metadata-chunk assembly are inherently sequential state).
	go func() {
		defer stages.Done()
		for rec, ok := encodeOut.Pop(); ok; rec, ok = encodeOut.Pop() {
			if rec.Err != nil {
				fail(rec.Err)
				continue
			}
			ec := rec.Payload.(*dispatch.EncodedChunk)
			if err := collector.Add(ec); err != nil {
				fail(fmt.Errorf("collect: %w", err))
			}
		}
	}()

	// Producer: the chunker is one reader over one file and cannot
	// itself be parallelized; it feeds the bounded hashing queue.
	var hashSeq uint64
	for {
		c, err := ck.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fail(fmt.Errorf("chunk: %w", err))
			break
		}
		hashIn.Push(pipeline.Record{Seq: hashSeq, Payload: c})
		hashSeq++
	}
	hashIn.Close()

	stages.Wait()
	if stageErr != nil {
		return stageErr
	}

	// Stage: per-cloud uploaders, one goroutine per meta/data
	// sub-stream per cloud (2N total), each draining its cloud's
	// already-fully-collected queues over its own connection.
	errCh := make(chan error, 2*a.numClouds)
	var uploaders sync.WaitGroup
	for i := 0; i < a.numClouds; i++ {
		cloudIndex := i
		q := collector.Cloud(cloudIndex)
		uploaders.Add(2)
		go func() {
			defer uploaders.Done()
			if err := uploadMetaToCloud(a, cfg, cloudIndex, q); err != nil {
				errCh <- fmt.Errorf("cloud %d meta: %w", cloudIndex, err)
			}
		}()
		go func() {
			defer uploaders.Done()
			if err := uploadDataToCloud(a, cfg, cloudIndex, q); err != nil {
				errCh <- fmt.Errorf("cloud %d data: %w", cloudIndex, err)
			}
		}()
	}
	uploaders.Wait()
	close(errCh)
	for err := range errCh {
		return err
	}
	return nil
}

// encodeJob is one segmented, keyed chunk paired with the secret_id the
// segmentation/key-exchange stage assigned it.
type encodeJob struct {
	secretID int64
	chunk    *chunker.Chunk
}

// uploadMetaToCloud sends one cloud's finalized metadata chunks over its
// meta connection.
func uploadMetaToCloud(a cliArgs, cfg *config.Config, cloudIndex int, q *dispatch.CloudQueues) error {
	metaConn, err := dialCloud(cfg.MetaAddrs[cloudIndex], uint32(a.userID))
	if err != nil {
		return err
	}
	defer metaConn.Close()

	metaUp := uploader.New(metaConn, a.filename, int(constants.ShareContainerCapacity))
	for _, mc := range q.MetaChunks {
		node := dispatch.MetaNode{
			ShareFP:    mc.FP,
			SecretID:   mc.SecretID,
			SecretSize: int32(len(mc.Body)),
			ShareSize:  int32(len(mc.Body)),
			SegID:      mc.SegID,
			ShareID:    0,
		}
		if err := metaUp.Add(uploader.Entry{Node: node, Body: mc.Body}); err != nil {
			return fmt.Errorf("meta upload: %w", err)
		}
	}
	return metaUp.Flush(true)
}

// uploadDataToCloud sends one cloud's data shares over its data
// connection. It only reads q (already fully populated by the collector
// stage before any uploader starts), so it runs independently of
// uploadMetaToCloud with no shared mutable state between the two.
func uploadDataToCloud(a cliArgs, cfg *config.Config, cloudIndex int, q *dispatch.CloudQueues) error {
	dataConn, err := dialCloud(cfg.DataAddrs[cloudIndex], uint32(a.userID))
	if err != nil {
		return err
	}
	defer dataConn.Close()

	dataUp := uploader.New(dataConn, a.filename, int(constants.ShareContainerCapacity))
	nodes := flattenMetaNodes(q.MetaChunks)
	if len(nodes) != len(q.Data) {
		return fmt.Errorf("data/meta length mismatch: %d shares, %d nodes", len(q.Data), len(nodes))
	}
	for i, share := range q.Data {
		if err := dataUp.Add(uploader.Entry{Node: nodes[i], Body: share.Body}); err != nil {
			return fmt.Errorf("data upload: %w", err)
		}
	}
	return dataUp.Flush(false)
}

// flattenMetaNodes concatenates every metadata chunk's nodes in the order
// Collector.Add produced them, the same order its Data queue was built in.
func flattenMetaNodes(chunks []dispatch.MetaChunk) []dispatch.MetaNode {
	var nodes []dispatch.MetaNode
	for _, mc := range chunks {
		nodes = append(nodes, mc.Nodes...)
	}
	return nodes
}

func dialCloud(addr string, userID uint32) (net.Conn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if err := wire.WriteUserID(conn, userID); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func loadKMPublicKeys(keysDir string, n int) ([]*keyexchange.PublicKey, error) {
	keys := make([]*keyexchange.PublicKey, n)
	for i := 0; i < n; i++ {
		dir := fmt.Sprintf("%s/km%d", keysDir, i)
		pub, err := rsakeys.LoadPublicKey(dir)
		if err != nil {
			return nil, fmt.Errorf("load KM %d public key: %w", i, err)
		}
		keys[i] = pub
	}
	return keys, nil
}

// kmDialer lazily dials each KM endpoint at most once and reuses the
// connection for every segment routed to it.
type kmDialer struct {
	addrs   []string
	keysDir string
	sends   map[uint8]keyexchange.Transport
	closers map[uint8]func() error
}

func newKMDialer(addrs []string, keysDir string) *kmDialer {
	return &kmDialer{
		addrs:   addrs,
		keysDir: keysDir,
		sends:   make(map[uint8]keyexchange.Transport),
		closers: make(map[uint8]func() error),
	}
}

func (d *kmDialer) sendFor(kmIndex uint8) keyexchange.Transport {
	return func(blinded []byte) ([]byte, error) {
		send, err := d.transport(kmIndex)
		if err != nil {
			return nil, err
		}
		return send(blinded)
	}
}

func (d *kmDialer) transport(kmIndex uint8) (keyexchange.Transport, error) {
	if send, ok := d.sends[kmIndex]; ok {
		return send, nil
	}
	if int(kmIndex) >= len(d.addrs) {
		return nil, fmt.Errorf("km index %d out of range (%d KMs)", kmIndex, len(d.addrs))
	}
	tlsCfg, err := rsakeys.LoadClientTLSConfig(fmt.Sprintf("%s/km%d", d.keysDir, kmIndex))
	if err != nil {
		return nil, err
	}
	send, closeFn, err := km.DialTransport(d.addrs[kmIndex], tlsCfg)
	if err != nil {
		return nil, err
	}
	d.sends[kmIndex] = send
	d.closers[kmIndex] = closeFn
	return send, nil
}

func (d *kmDialer) closeAll() {
	for _, closeFn := range d.closers {
		_ = closeFn()
	}
}
