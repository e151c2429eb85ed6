// Package dedup implements the per-cloud, two-stage deduplication engine
// that both DedupCore (metadata-chunk shares) and minDedupCore
// (data-chunk shares) instantiate. The two services share
// this implementation and differ only in the container/buffer sizing
// they're constructed with.
package dedup

import (
	"fmt"
	"sync"
	"time"

	"github.com/metadedup/metadedup/internal/server/kvstore"
)

// ShareMeta is the wire-level description of one stored share, the
// server-side mirror of a client MetaNode.
type ShareMeta struct {
	ShareFP    []byte
	SecretID   int64
	SecretSize int32
	ShareSize  int32
	SegID      uint64
	ShareID    int32
}

// Config parameterizes one DedupCore instance.
type Config struct {
	ContainerCapacity int
	RecipeCapacity    int
	MaxBufferWait     time.Duration
	CachedContainers  int
}

// DedupCore is the two-stage dedup engine for one sub-service (meta or
// data) of one cloud.
type DedupCore struct {
	shareIdx   *ShareIndex
	inodeIdx   *InodeIndex
	recipes    *RecipeStore
	containers *ContainerStore
	cfg        Config

	mu            sync.Mutex
	buffers       map[int32]*UserBuffer
	nextContainer Name
	nextRecipe    Name

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// New builds a DedupCore backed by store (the ordered KV index) and the
// recipe/container files rooted at recipeDir/containerDir.
func New(store *kvstore.Store, recipeDir, containerDir string, cfg Config) (*DedupCore, error) {
	recipes, err := NewRecipeStore(recipeDir)
	if err != nil {
		return nil, err
	}
	containers, err := NewContainerStore(containerDir, cfg.CachedContainers)
	if err != nil {
		return nil, err
	}
	d := &DedupCore{
		shareIdx:   NewShareIndex(store),
		inodeIdx:   NewInodeIndex(store),
		recipes:    recipes,
		containers: containers,
		cfg:        cfg,
		buffers:    make(map[int32]*UserBuffer),
		stopSweep:  make(chan struct{}),
		sweepDone:  make(chan struct{}),
	}
	go d.sweep()
	return d, nil
}

// Close stops the background sweeper and closes the recipe store.
func (d *DedupCore) Close() error {
	close(d.stopSweep)
	<-d.sweepDone
	return d.recipes.Close()
}

func (d *DedupCore) sweep() {
	defer close(d.sweepDone)
	ticker := time.NewTicker(d.cfg.MaxBufferWait / 4)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopSweep:
			return
		case <-ticker.C:
			d.flushIdle()
		}
	}
}

// flushIdle flushes every buffer whose last_use_time exceeds
// MAX_BUFFER_WAIT_SECS.
func (d *DedupCore) flushIdle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, buf := range d.buffers {
		if time.Since(buf.LastUse) > d.cfg.MaxBufferWait {
			_ = d.flushContainerLocked(buf)
			_ = d.flushRecipeLocked(buf)
		}
	}
}

func (d *DedupCore) bufferFor(userID int32) *UserBuffer {
	buf, ok := d.buffers[userID]
	if !ok {
		buf = newUserBuffer(userID, d.nextContainer, d.nextRecipe)
		d.nextContainer = d.nextContainer.Next()
		d.nextRecipe = d.nextRecipe.Next()
		d.buffers[userID] = buf
	}
	return buf
}

// FirstStage runs the intra-user dedup check on a batch of MetaEntries.
// It returns, per entry, whether this user already references the share
// (client-visible duplicate bit) and the total share_size of the
// non-duplicate entries.
func (d *DedupCore) FirstStage(userID int32, entries []ShareMeta) (dup []bool, sentShareDataSize int64, err error) {
	dup = make([]bool, len(entries))
	for i, e := range entries {
		v, ok, lookupErr := d.shareIdx.Lookup(e.ShareFP)
		if lookupErr != nil {
			return nil, 0, lookupErr
		}
		if ok && hasUserRef(v, userID) {
			dup[i] = true
			if err := d.shareIdx.AddUserRef(e.ShareFP, userID); err != nil {
				return nil, 0, err
			}
			continue
		}
		sentShareDataSize += int64(e.ShareSize)
	}
	return dup, sentShareDataSize, nil
}

func hasUserRef(v ShareIndexValue, userID int32) bool {
	for _, r := range v.Refs {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// SecondStage consumes the non-duplicate entries (in order, paired with
// their bodies) for one file upload, running inter-user dedup against
// storage and appending recipe entries to the user's open buffer.
func (d *DedupCore) SecondStage(userID int32, path string, firstStageDup []bool, entries []ShareMeta, bodies [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := d.bufferFor(userID)
	buf.touch()
	buf.PendingPath = path

	// Every entry gets a recipe record regardless of dup status: the
	// recipe describes the whole file, not just the bytes this upload
	// actually transferred. first-stage duplicates were already given a
	// bumped user-ref by FirstStage and carry no body here.
	bi := 0
	for i, e := range entries {
		if !firstStageDup[i] {
			if bi >= len(bodies) {
				return fmt.Errorf("dedup: fewer bodies (%d) than non-duplicate entries", len(bodies))
			}
			body := bodies[bi]
			bi++

			v, ok, err := d.shareIdx.Lookup(e.ShareFP)
			if err != nil {
				return err
			}
			if ok {
				if err := d.shareIdx.AddUserRef(e.ShareFP, userID); err != nil {
					return err
				}
			} else {
				if err := d.ensureContainerRoom(buf, len(body)); err != nil {
					return err
				}
				offset := int32(len(buf.ContainerBuf))
				buf.ContainerBuf = append(buf.ContainerBuf, body...)
				v = ShareIndexValue{ContainerName: buf.ContainerName, ContainerOff: offset, ShareSize: int32(len(body))}
				if err := d.shareIdx.Create(e.ShareFP, v, userID); err != nil {
					return err
				}
			}
		}

		entry := RecipeEntry{ShareFP: e.ShareFP, SecretID: e.SecretID, SecretSize: e.SecretSize, SegID: e.SegID, ShareID: e.ShareID}
		if err := d.ensureRecipeRoom(buf, userID, path, entry); err != nil {
			return err
		}
		buf.PendingEntries = append(buf.PendingEntries, entry)
	}
	return d.flushRecipeRecord(buf, userID, path)
}

// ensureContainerRoom flushes the open container if bodyLen would
// overflow it.
func (d *DedupCore) ensureContainerRoom(buf *UserBuffer, bodyLen int) error {
	if len(buf.ContainerBuf) > 0 && len(buf.ContainerBuf)+bodyLen > d.cfg.ContainerCapacity {
		return d.flushContainerLocked(buf)
	}
	return nil
}

func (d *DedupCore) flushContainerLocked(buf *UserBuffer) error {
	if len(buf.ContainerBuf) == 0 {
		return nil
	}
	if err := d.containers.WriteContainer(buf.ContainerName, buf.ContainerBuf); err != nil {
		return err
	}
	buf.ContainerName = d.nextContainer
	d.nextContainer = d.nextContainer.Next()
	buf.ContainerBuf = nil
	return nil
}

// ensureRecipeRoom rolls to a fresh recipe name (open question (c): a
// fresh inode file-entry record, never spliced across files) if the
// pending entry would overflow the 4 MiB recipe buffer.
func (d *DedupCore) ensureRecipeRoom(buf *UserBuffer, userID int32, path string, next RecipeEntry) error {
	const entryWireSize = 32 + 8 + 4 + 8 + 4
	if len(buf.PendingEntries) > 0 && buf.pendingRecipeBytes()+entryWireSize > d.cfg.RecipeCapacity {
		if err := d.flushRecipeRecord(buf, userID, path); err != nil {
			return err
		}
		buf.RecipeName = d.nextRecipe
		d.nextRecipe = d.nextRecipe.Next()
	}
	return nil
}

func (d *DedupCore) flushRecipeLocked(buf *UserBuffer) error {
	if len(buf.PendingEntries) == 0 {
		return nil
	}
	return d.flushRecipeRecord(buf, buf.UserID, buf.PendingPath)
}

// flushRecipeRecord appends the buffer's pending entries as one record
// and repoints the inode entry at its offset.
func (d *DedupCore) flushRecipeRecord(buf *UserBuffer, userID int32, path string) error {
	if len(buf.PendingEntries) == 0 {
		return nil
	}
	var fileSize int64
	for _, e := range buf.PendingEntries {
		fileSize += int64(e.SecretSize)
	}
	head := RecipeHead{UserID: userID, FileSize: fileSize, NumShares: int32(len(buf.PendingEntries))}
	offset, err := d.recipes.Append(buf.RecipeName, head, path, buf.PendingEntries)
	if err != nil {
		return err
	}
	if err := d.inodeIdx.Update(userID, path, InodeEntry{RecipeName: buf.RecipeName, Offset: int32(offset)}); err != nil {
		return err
	}
	buf.PendingEntries = nil
	return nil
}

// Restore resolves (userID, path) to its latest recipe record, the
// read-side counterpart of SecondStage.
func (d *DedupCore) Restore(userID int32, path string) (RecipeHead, []RecipeEntry, error) {
	entry, ok, err := d.inodeIdx.Lookup(userID, path)
	if err != nil {
		return RecipeHead{}, nil, err
	}
	if !ok {
		return RecipeHead{}, nil, fmt.Errorf("dedup: %w", ErrNoDataChunksFound)
	}
	head, _, entries, err := d.recipes.ReadRecord(entry.RecipeName, int64(entry.Offset))
	if err != nil {
		return RecipeHead{}, nil, err
	}
	return head, entries, nil
}

// ReadShareBody resolves one stored share's body via the share-fp index
// and the container it lives in: a user's still-open container buffer,
// or else the (cached) container file.
func (d *DedupCore) ReadShareBody(fp []byte) ([]byte, error) {
	v, ok, err := d.shareIdx.Lookup(fp)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("dedup: share fp not found in index")
	}
	d.mu.Lock()
	for _, buf := range d.buffers {
		end := int(v.ContainerOff) + int(v.ShareSize)
		if buf.ContainerName == v.ContainerName && v.ContainerOff >= 0 && end <= len(buf.ContainerBuf) {
			body := append([]byte(nil), buf.ContainerBuf[v.ContainerOff:end]...)
			d.mu.Unlock()
			return body, nil
		}
	}
	d.mu.Unlock()
	return d.containers.ReadSlice(v.ContainerName, v.ContainerOff, v.ShareSize)
}
