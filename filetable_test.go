package flatfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTable(t *testing.T) (*FileTable, *MemBlockDevice) {
	t.Helper()
	dev := NewMemBlockDevice(256)
	sb, err := NewSuperBlock(dev)
	require.NoError(t, err)
	require.NoError(t, sb.Format(32))
	dir := NewDirectory(sb.InodeCount)
	return NewFileTable(dev, dir, sb), dev
}

func diskFlag(t *testing.T, dev BlockDevice, inum int16) int16 {
	t.Helper()
	ino, err := LoadInode(dev, inum)
	require.NoError(t, err)
	return ino.Flag
}

func TestFAllocReadMissingFile(t *testing.T) {
	ft, _ := newTestTable(t)
	_, err := ft.FAlloc("nope", ModeRead)
	require.Equal(t, ErrNotFound, err)
}

func TestFAllocFlagTransitions(t *testing.T) {
	ft, dev := newTestTable(t)

	// creation in read-write mode forces the write-queued flag
	e, err := ft.FAlloc("f", ModeReadWrite)
	require.NoError(t, err)
	require.Equal(t, FlagWriteQueued, diskFlag(t, dev, e.Inum()))
	require.NoError(t, ft.FFree(e))
	require.Equal(t, FlagUnusedWriteReg, diskFlag(t, dev, e.Inum()))

	// an existing file opened read-write gets flag 4
	e, err = ft.FAlloc("f", ModeReadWrite)
	require.NoError(t, err)
	require.Equal(t, FlagReadWriteQueued, diskFlag(t, dev, e.Inum()))
	require.NoError(t, ft.FFree(e))

	e, err = ft.FAlloc("f", ModeRead)
	require.NoError(t, err)
	require.Equal(t, FlagRead, diskFlag(t, dev, e.Inum()))
	require.NoError(t, ft.FFree(e))
	require.Equal(t, FlagUnused, diskFlag(t, dev, e.Inum()))

	e, err = ft.FAlloc("f", ModeWrite)
	require.NoError(t, err)
	require.Equal(t, FlagWriteExcl, diskFlag(t, dev, e.Inum()))
	require.NoError(t, ft.FFree(e))
	require.Equal(t, FlagUnused, diskFlag(t, dev, e.Inum()))

	e, err = ft.FAlloc("f", ModeAppend)
	require.NoError(t, err)
	require.Equal(t, FlagWriteQueued, diskFlag(t, dev, e.Inum()))
	require.NoError(t, ft.FFree(e))
}

func TestFAllocBlocksOnExclusiveWriter(t *testing.T) {
	ft, _ := newTestTable(t)

	writer, err := ft.FAlloc("f", ModeWrite)
	require.NoError(t, err)

	admitted := make(chan *FileTableEntry)
	go func() {
		reader, err := ft.FAlloc("f", ModeRead)
		require.NoError(t, err)
		admitted <- reader
	}()

	select {
	case <-admitted:
		t.Fatal("reader admitted while exclusive writer holds the inode")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, ft.FFree(writer))

	select {
	case reader := <-admitted:
		require.NoError(t, ft.FFree(reader))
	case <-time.After(2 * time.Second):
		t.Fatal("reader never admitted after release")
	}
}

func TestReleaseWakesAllWaiters(t *testing.T) {
	ft, _ := newTestTable(t)

	writer, err := ft.FAlloc("f", ModeWrite)
	require.NoError(t, err)

	const waiters = 4
	admitted := make(chan *FileTableEntry, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			e, err := ft.FAlloc("f", ModeRead)
			require.NoError(t, err)
			admitted <- e
		}()
	}

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ft.FFree(writer))

	for i := 0; i < waiters; i++ {
		select {
		case e := <-admitted:
			require.NoError(t, ft.FFree(e))
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d never admitted", i)
		}
	}
}

func TestSharedInodeAcrossEntries(t *testing.T) {
	ft, _ := newTestTable(t)

	a, err := ft.FAlloc("f", ModeReadWrite)
	require.NoError(t, err)
	require.NoError(t, ft.FFree(a))

	// two concurrent readers share one in-memory inode record
	r1, err := ft.FAlloc("f", ModeRead)
	require.NoError(t, err)
	r2, err := ft.FAlloc("f", ModeRead)
	require.NoError(t, err)
	require.True(t, r1.inode == r2.inode)
	require.Equal(t, int16(2), r1.inode.Count)

	require.NoError(t, ft.FFree(r1))
	require.NoError(t, ft.FFree(r2))
	require.True(t, ft.Empty())
}

func TestFFreeUnknownEntry(t *testing.T) {
	ft, _ := newTestTable(t)
	e := newFileTableEntry(NewInode(), 1, ModeRead)
	require.Equal(t, ErrInvalidHandle, ft.FFree(e))
}
