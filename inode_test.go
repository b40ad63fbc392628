package flatfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInodeRoundTrip(t *testing.T) {
	dev := NewMemBlockDevice(64)

	ino := &Inode{
		Length:   12345,
		Count:    2,
		Flag:     FlagReadWriteQueued,
		Indirect: 40,
	}
	for i := 0; i < DirectSize; i++ {
		ino.Direct[i] = int16(20 + i)
	}
	ino.Direct[7] = UnusedBlock

	// every slot of the first inode block plus a later block
	for _, inum := range []int16{0, 1, 15, 16, 17, 63} {
		require.NoError(t, ino.Store(dev, inum))
		got, err := LoadInode(dev, inum)
		require.NoError(t, err)
		require.Equal(t, ino, got, "inum %d", inum)
	}
}

func TestInodeOnDiskLayout(t *testing.T) {
	dev := NewMemBlockDevice(64)

	ino := NewInode()
	ino.Length = 0x01020304
	ino.Count = 3
	ino.Flag = FlagWriteExcl
	ino.Direct[0] = 9
	ino.Indirect = 11

	// inode 17 lives in block 2, second slot
	require.NoError(t, ino.Store(dev, 17))
	raw, err := dev.ReadBlock(2)
	require.NoError(t, err)
	rec := raw[InodeSize : 2*InodeSize]

	require.Equal(t, uint32(0x01020304), binary.BigEndian.Uint32(rec[0:]))
	require.Equal(t, uint16(3), binary.BigEndian.Uint16(rec[4:]))
	require.Equal(t, uint16(2), binary.BigEndian.Uint16(rec[6:]))
	require.Equal(t, uint16(9), binary.BigEndian.Uint16(rec[8:]))
	// unused direct pointers carry the -1 sentinel
	require.Equal(t, uint16(0xFFFF), binary.BigEndian.Uint16(rec[10:]))
	require.Equal(t, uint16(11), binary.BigEndian.Uint16(rec[30:]))
}

func TestInodeRecordSize(t *testing.T) {
	size, err := SizeOf(NewInode())
	require.NoError(t, err)
	require.Equal(t, InodeSize, size)
}

func TestStoreDoesNotClobberNeighbors(t *testing.T) {
	dev := NewMemBlockDevice(64)

	first := NewInode()
	first.Length = 111
	require.NoError(t, first.Store(dev, 0))

	second := NewInode()
	second.Length = 222
	require.NoError(t, second.Store(dev, 1))

	got, err := LoadInode(dev, 0)
	require.NoError(t, err)
	require.Equal(t, int32(111), got.Length)
}
