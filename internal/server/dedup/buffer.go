package dedup

import "time"

// UserBuffer is the in-memory, per-user accumulation point for both the
// open share container and the open recipe record.
type UserBuffer struct {
	UserID int32

	ContainerName Name
	ContainerBuf  []byte

	RecipeName     Name
	PendingPath    string
	PendingEntries []RecipeEntry

	LastUse time.Time
}

func newUserBuffer(userID int32, containerName, recipeName Name) *UserBuffer {
	return &UserBuffer{
		UserID:        userID,
		ContainerName: containerName,
		RecipeName:    recipeName,
		LastUse:       time.Now(),
	}
}

func (b *UserBuffer) touch() { b.LastUse = time.Now() }

// pendingRecipeBytes estimates the serialized size of the buffered
// recipe entries plus their path, for the 4 MiB recipe-buffer check.
func (b *UserBuffer) pendingRecipeBytes() int {
	const entryWireSize = 32 + 8 + 4 + 8 + 4
	return 16 + 4 + len(b.PendingPath) + len(b.PendingEntries)*entryWireSize
}
