package flatfs

import (
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultInodeCount is the format-time file capacity used when a device
// carries no valid superblock.
const DefaultInodeCount = 64

// dSuperBlock is block 0 on disk: total blocks, inode capacity, and the
// head of the free list, all big-endian.
type dSuperBlock struct {
	TotalBlocks int32 `struct:"int32"`
	InodeCount  int32 `struct:"int32"`
	FreeList    int32 `struct:"int32"`
}

// SuperBlock owns block 0 and the free-block list. Free blocks form a
// singly linked list threaded through their own first 4 bytes; the value
// TotalBlocks terminates it. The head lives in memory between Syncs.
type SuperBlock struct {
	mu          sync.Mutex
	dev         BlockDevice
	TotalBlocks int
	InodeCount  int
	FreeList    int
}

// NewSuperBlock reads block 0 and accepts it when the recorded geometry
// matches the device; anything else is treated as an uninitialized disk
// and formatted with DefaultInodeCount files.
func NewSuperBlock(dev BlockDevice) (*SuperBlock, error) {
	sb := &SuperBlock{dev: dev, TotalBlocks: dev.GetTotalBlockCount()}

	data, err := dev.ReadBlock(0)
	if err != nil {
		return nil, err
	}
	var d dSuperBlock
	if err := StructOf(data[:12], &d); err != nil {
		return nil, ErrInvalidStructBytes
	}

	// block 0 is the superblock and the inode region starts at 1, so a
	// sane free list begins at 2 or later
	if int(d.TotalBlocks) == sb.TotalBlocks && d.InodeCount > 0 && d.FreeList >= 2 {
		sb.InodeCount = int(d.InodeCount)
		sb.FreeList = int(d.FreeList)
		return sb, nil
	}

	logrus.Warnf("op=%s, no valid superblock, formatting %d blocks", "NewSuperBlock", sb.TotalBlocks)
	if err := sb.Format(DefaultInodeCount); err != nil {
		return nil, err
	}
	return sb, nil
}

// Format writes files blank inodes into the inode region and threads every
// remaining block into the free list. A partial final inode block is still
// fully reserved, so the first free block is files/16 + 2.
func (sb *SuperBlock) Format(files int) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	sb.InodeCount = files
	sb.FreeList = files/InodesPerBlock + 2

	if sb.FreeList >= sb.TotalBlocks {
		return ErrDeviceTooSmall
	}

	blank, err := BytesOf(NewInode())
	if err != nil {
		return err
	}
	inodeBlocks := (files + InodesPerBlock - 1) / InodesPerBlock
	for blk := 1; blk <= inodeBlocks; blk++ {
		data := make([]byte, BlockSize)
		for i := 0; i < InodesPerBlock; i++ {
			copy(data[i*InodeSize:], blank)
		}
		if err := sb.dev.WriteBlock(blk, data); err != nil {
			return err
		}
	}

	// each free block's first 4 bytes name the next free block; the final
	// block points at TotalBlocks, the list terminator
	for i := sb.FreeList; i < sb.TotalBlocks; i++ {
		data := make([]byte, BlockSize)
		binary.BigEndian.PutUint32(data, uint32(i+1))
		if err := sb.dev.WriteBlock(i, data); err != nil {
			return err
		}
	}

	return sb.syncLocked()
}

// GetFreeBlock pops the head of the free list and returns it zeroed, so
// callers never see stale content. ErrNoSpace when the list is empty.
func (sb *SuperBlock) GetFreeBlock() (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.FreeList == sb.TotalBlocks {
		return -1, ErrNoSpace
	}

	blockno := sb.FreeList
	data, err := sb.dev.ReadBlock(blockno)
	if err != nil {
		return -1, err
	}
	sb.FreeList = int(binary.BigEndian.Uint32(data))

	if err := sb.dev.WriteBlock(blockno, make([]byte, BlockSize)); err != nil {
		return -1, err
	}
	return blockno, nil
}

// ReturnBlock pushes blockno onto the free list, LIFO, destroying its
// previous content. The superblock and inode-region blocks are refused.
func (sb *SuperBlock) ReturnBlock(blockno int) error {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	validStart := sb.InodeCount/InodesPerBlock + 2
	if blockno < validStart || blockno >= sb.TotalBlocks {
		return ErrInvalidArgument
	}

	data := make([]byte, BlockSize)
	binary.BigEndian.PutUint32(data, uint32(sb.FreeList))
	if err := sb.dev.WriteBlock(blockno, data); err != nil {
		return err
	}
	sb.FreeList = blockno
	return nil
}

// FreeBlockCount walks the list. Costs one read per free block; used by
// statfs and tests, not by the write path.
func (sb *SuperBlock) FreeBlockCount() (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	count := 0
	for cur := sb.FreeList; cur != sb.TotalBlocks; {
		data, err := sb.dev.ReadBlock(cur)
		if err != nil {
			return 0, err
		}
		count++
		cur = int(binary.BigEndian.Uint32(data))
	}
	return count, nil
}

// Sync writes the superblock fields back to block 0.
func (sb *SuperBlock) Sync() error {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	return sb.syncLocked()
}

func (sb *SuperBlock) syncLocked() error {
	d := dSuperBlock{
		TotalBlocks: int32(sb.TotalBlocks),
		InodeCount:  int32(sb.InodeCount),
		FreeList:    int32(sb.FreeList),
	}
	raw, err := BytesOf(&d)
	if err != nil {
		return err
	}
	logrus.Debugf("op=%s, total=%d inodes=%d freelist=%d", "SuperBlock.Sync", sb.TotalBlocks, sb.InodeCount, sb.FreeList)
	return sb.dev.WriteBlock(0, Pad(raw, BlockSize))
}
