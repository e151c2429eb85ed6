package dedup

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/metadedup/metadedup/internal/server/kvstore"
)

func newTestCore(t *testing.T) *DedupCore {
	t.Helper()
	dir := t.TempDir()
	store, err := kvstore.Open(filepath.Join(dir, "index.db"), shareBucket, inodeBucket)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	core, err := New(store, filepath.Join(dir, "recipes"), filepath.Join(dir, "containers"), Config{
		ContainerCapacity: 4 << 20,
		RecipeCapacity:    4 << 20,
		MaxBufferWait:     time.Hour,
		CachedContainers:  8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { core.Close() })
	return core
}

func sampleEntries() []ShareMeta {
	return []ShareMeta{
		{ShareFP: bytes.Repeat([]byte{1}, 32), SecretID: 1, SecretSize: 100, ShareSize: 50, SegID: 0, ShareID: 0},
		{ShareFP: bytes.Repeat([]byte{2}, 32), SecretID: 2, SecretSize: 100, ShareSize: 50, SegID: 0, ShareID: 1},
	}
}

func sampleBodies() [][]byte {
	return [][]byte{
		bytes.Repeat([]byte{0xAA}, 50),
		bytes.Repeat([]byte{0xBB}, 50),
	}
}

func TestFirstStageNoDuplicatesOnFirstUpload(t *testing.T) {
	core := newTestCore(t)
	entries := sampleEntries()

	dup, sentSize, err := core.FirstStage(1, entries)
	require.NoError(t, err)
	require.Equal(t, []bool{false, false}, dup)
	require.EqualValues(t, 100, sentSize)
}

func TestSameUserReuploadIsFullyDeduplicated(t *testing.T) {
	core := newTestCore(t)
	entries := sampleEntries()
	bodies := sampleBodies()

	dup1, _, err := core.FirstStage(1, entries)
	require.NoError(t, err)
	require.NoError(t, core.SecondStage(1, "/file.bin", dup1, entries, bodies))

	// Re-upload of the identical file by the same user: every share is
	// already referenced, so the first stage alone catches it and no
	// body is sent.
	dup2, sentSize2, err := core.FirstStage(1, entries)
	require.NoError(t, err)
	require.Equal(t, []bool{true, true}, dup2)
	require.Zero(t, sentSize2)

	v, ok, err := core.shareIdx.Lookup(entries[0].ShareFP)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, v.Refs, 1)
	require.Equal(t, int32(2), v.Refs[0].RefCnt)
}

func TestSecondUserTriggersStorageDedupNotDuplication(t *testing.T) {
	core := newTestCore(t)
	entries := sampleEntries()
	bodies := sampleBodies()

	dup1, _, err := core.FirstStage(1, entries)
	require.NoError(t, err)
	require.NoError(t, core.SecondStage(1, "/file.bin", dup1, entries, bodies))

	// A different user uploading the same shares is not an intra-user
	// duplicate, but storage-level (second-stage) dedup must still avoid
	// writing the body again and just add a user reference.
	dup2, sentSize2, err := core.FirstStage(2, entries)
	require.NoError(t, err)
	require.Equal(t, []bool{false, false}, dup2)
	require.EqualValues(t, 100, sentSize2)

	require.NoError(t, core.SecondStage(2, "/other/file.bin", dup2, entries, bodies))

	v, ok, err := core.shareIdx.Lookup(entries[0].ShareFP)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, v.Refs, 2)
	for _, r := range v.Refs {
		require.Equal(t, int32(1), r.RefCnt)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	core := newTestCore(t)
	entries := sampleEntries()
	bodies := sampleBodies()

	dup, _, err := core.FirstStage(7, entries)
	require.NoError(t, err)
	require.NoError(t, core.SecondStage(7, "/backup/report.pdf", dup, entries, bodies))

	head, gotEntries, err := core.Restore(7, "/backup/report.pdf")
	require.NoError(t, err)
	require.EqualValues(t, 7, head.UserID)
	require.EqualValues(t, 200, head.FileSize)
	require.Len(t, gotEntries, 2)
	require.Equal(t, entries[0].ShareFP, gotEntries[0].ShareFP)

	for i, e := range gotEntries {
		body, err := core.ReadShareBody(e.ShareFP)
		require.NoError(t, err)
		require.Equal(t, bodies[i], body)
	}
}

func TestRestoreUnknownPathFails(t *testing.T) {
	core := newTestCore(t)
	_, _, err := core.Restore(1, "/never/uploaded")
	require.ErrorIs(t, err, ErrNoDataChunksFound)
}

func TestFileVersionOverwriteKeepsOldRecipeReadable(t *testing.T) {
	core := newTestCore(t)
	entries1 := sampleEntries()[:1]
	bodies1 := sampleBodies()[:1]
	dup1, _, err := core.FirstStage(3, entries1)
	require.NoError(t, err)
	require.NoError(t, core.SecondStage(3, "/doc.txt", dup1, entries1, bodies1))

	_, oldEntries, err := core.Restore(3, "/doc.txt")
	require.NoError(t, err)
	require.Len(t, oldEntries, 1)
	oldInode, ok, err := core.inodeIdx.Lookup(3, "/doc.txt")
	require.NoError(t, err)
	require.True(t, ok)

	entries2 := sampleEntries()
	bodies2 := sampleBodies()
	dup2, _, err := core.FirstStage(3, entries2)
	require.NoError(t, err)
	require.NoError(t, core.SecondStage(3, "/doc.txt", dup2, entries2, bodies2))

	head, newEntries, err := core.Restore(3, "/doc.txt")
	require.NoError(t, err)
	require.Len(t, newEntries, 2)
	require.EqualValues(t, 200, head.FileSize)

	_, _, oldAgain, err := core.recipes.ReadRecord(oldInode.RecipeName, int64(oldInode.Offset))
	require.NoError(t, err)
	require.Len(t, oldAgain, 1)
}

func TestContainerRollsOverAtCapacity(t *testing.T) {
	dir := t.TempDir()
	store, err := kvstore.Open(filepath.Join(dir, "index.db"), shareBucket, inodeBucket)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	core, err := New(store, filepath.Join(dir, "recipes"), filepath.Join(dir, "containers"), Config{
		ContainerCapacity: 64,
		RecipeCapacity:    4 << 20,
		MaxBufferWait:     time.Hour,
		CachedContainers:  8,
	})
	require.NoError(t, err)
	t.Cleanup(func() { core.Close() })

	entries := sampleEntries()
	bodies := sampleBodies()
	dup, _, err := core.FirstStage(1, entries)
	require.NoError(t, err)
	require.NoError(t, core.SecondStage(1, "/big.bin", dup, entries, bodies))

	v0, ok, err := core.shareIdx.Lookup(entries[0].ShareFP)
	require.NoError(t, err)
	require.True(t, ok)
	v1, ok, err := core.shareIdx.Lookup(entries[1].ShareFP)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEqual(t, v0.ContainerName, v1.ContainerName, "50+50 bytes over a 64-byte capacity must roll to a new container")
}
