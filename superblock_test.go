package flatfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFormattedSuperBlock(t *testing.T, blocks, files int) (*SuperBlock, *MemBlockDevice) {
	t.Helper()
	dev := NewMemBlockDevice(blocks)
	sb, err := NewSuperBlock(dev)
	require.NoError(t, err)
	require.NoError(t, sb.Format(files))
	return sb, dev
}

func TestSuperBlockFormatGeometry(t *testing.T) {
	sb, dev := newFormattedSuperBlock(t, 256, 64)

	require.Equal(t, 256, sb.TotalBlocks)
	require.Equal(t, 64, sb.InodeCount)
	// 64 inodes fill blocks 1..4; the head lands one past that, per the
	// files/16+2 convention
	require.Equal(t, 6, sb.FreeList)

	// block 0 layout: three big-endian u32 fields
	raw, err := dev.ReadBlock(0)
	require.NoError(t, err)
	require.Equal(t, uint32(256), binary.BigEndian.Uint32(raw[0:]))
	require.Equal(t, uint32(64), binary.BigEndian.Uint32(raw[4:]))
	require.Equal(t, uint32(6), binary.BigEndian.Uint32(raw[8:]))

	free, err := sb.FreeBlockCount()
	require.NoError(t, err)
	require.Equal(t, 256-6, free)
}

func TestSuperBlockMountAcceptsValidDisk(t *testing.T) {
	sb, dev := newFormattedSuperBlock(t, 128, 32)
	_, err := sb.GetFreeBlock()
	require.NoError(t, err)
	require.NoError(t, sb.Sync())

	// a second mount of the same device must see the persisted head, not
	// reformat
	sb2, err := NewSuperBlock(dev)
	require.NoError(t, err)
	require.Equal(t, sb.FreeList, sb2.FreeList)
	require.Equal(t, 32, sb2.InodeCount)
}

func TestSuperBlockMountReformatsGarbage(t *testing.T) {
	dev := NewMemBlockDevice(128)
	garbage := make([]byte, BlockSize)
	for i := range garbage {
		garbage[i] = 0xA5
	}
	require.NoError(t, dev.WriteBlock(0, garbage))

	sb, err := NewSuperBlock(dev)
	require.NoError(t, err)
	require.Equal(t, DefaultInodeCount, sb.InodeCount)
	require.Equal(t, DefaultInodeCount/InodesPerBlock+2, sb.FreeList)
}

func TestGetFreeBlockReturnsZeroedBlock(t *testing.T) {
	sb, dev := newFormattedSuperBlock(t, 64, 16)

	blockno, err := sb.GetFreeBlock()
	require.NoError(t, err)
	require.Equal(t, 3, blockno)

	data, err := dev.ReadBlock(blockno)
	require.NoError(t, err)
	require.Equal(t, make([]byte, BlockSize), data)
}

func TestReturnBlockIsLIFO(t *testing.T) {
	sb, _ := newFormattedSuperBlock(t, 64, 16)

	a, err := sb.GetFreeBlock()
	require.NoError(t, err)
	b, err := sb.GetFreeBlock()
	require.NoError(t, err)

	require.NoError(t, sb.ReturnBlock(a))
	require.NoError(t, sb.ReturnBlock(b))

	// most recently freed comes back first
	got, err := sb.GetFreeBlock()
	require.NoError(t, err)
	require.Equal(t, b, got)
	got, err = sb.GetFreeBlock()
	require.NoError(t, err)
	require.Equal(t, a, got)
}

func TestReturnBlockRejectsReservedBlocks(t *testing.T) {
	sb, _ := newFormattedSuperBlock(t, 64, 16)

	require.Error(t, sb.ReturnBlock(0))        // superblock
	require.Error(t, sb.ReturnBlock(1))        // inode region
	require.Error(t, sb.ReturnBlock(2))        // inode region boundary
	require.Error(t, sb.ReturnBlock(64))       // past the device
	require.NoError(t, sb.ReturnBlock(63))     // last valid block
}

func TestFreeListConservation(t *testing.T) {
	sb, _ := newFormattedSuperBlock(t, 64, 16)
	total := 64 - 3

	var held []int
	for i := 0; i < 20; i++ {
		blockno, err := sb.GetFreeBlock()
		require.NoError(t, err)
		held = append(held, blockno)
	}
	free, err := sb.FreeBlockCount()
	require.NoError(t, err)
	require.Equal(t, total-20, free)

	for _, blockno := range held {
		require.NoError(t, sb.ReturnBlock(blockno))
	}
	free, err = sb.FreeBlockCount()
	require.NoError(t, err)
	require.Equal(t, total, free)

	// no duplicates: draining the list yields each block exactly once
	seen := map[int]bool{}
	for {
		blockno, err := sb.GetFreeBlock()
		if err == ErrNoSpace {
			break
		}
		require.NoError(t, err)
		require.False(t, seen[blockno], "block %d handed out twice", blockno)
		seen[blockno] = true
	}
	require.Len(t, seen, total)
}

func TestGetFreeBlockExhaustion(t *testing.T) {
	sb, _ := newFormattedSuperBlock(t, 16, 16)

	for i := 0; i < 13; i++ {
		_, err := sb.GetFreeBlock()
		require.NoError(t, err)
	}
	_, err := sb.GetFreeBlock()
	require.Equal(t, ErrNoSpace, err)
}
