package flatfs

// An inode is a fixed 32-byte on-disk record describing one file. Sixteen
// of them pack into each block of the inode region, which starts at block
// 1. Field order and widths are load-bearing: length(4) / count(2) /
// flag(2) / direct[11]x2 / indirect(2).
const (
	InodeSize      = 32
	InodesPerBlock = BlockSize / InodeSize
	DirectSize     = 11
	IndirectCount  = BlockSize / 2

	// MaxFileSize is the capacity ceiling: all direct blocks plus every
	// slot of the single indirect table, full.
	MaxFileSize = DirectSize*BlockSize + IndirectCount*BlockSize
)

// UnusedBlock marks an unwired direct or indirect pointer. Inside the
// indirect table the sentinel for "never allocated" is 0 instead; the two
// regions use different empty markers and the wire format keeps both.
const UnusedBlock = int16(-1)

// Access-flag state machine, one value per inode:
//
//	0  unused, no references
//	1  open for read
//	2  open exclusively for write
//	3  unused, but a write is queued
//	4  open for read with a write queued
//	5  open for write/append with readers present
const (
	FlagUnused          = int16(0)
	FlagRead            = int16(1)
	FlagWriteExcl       = int16(2)
	FlagUnusedWriteReg  = int16(3)
	FlagReadWriteQueued = int16(4)
	FlagWriteQueued     = int16(5)
)

type Inode struct {
	Length   int32            `struct:"int32"`
	Count    int16            `struct:"int16"` // open handles pointing here
	Flag     int16            `struct:"int16"`
	Direct   [DirectSize]int16 `struct:"[11]int16"`
	Indirect int16            `struct:"int16"`
}

// NewInode returns a blank inode the way the formatter writes them.
func NewInode() *Inode {
	ino := &Inode{
		Length: 0,
		Count:  0,
		Flag:   FlagRead,
	}
	for i := 0; i < DirectSize; i++ {
		ino.Direct[i] = UnusedBlock
	}
	ino.Indirect = UnusedBlock
	return ino
}

func inodeBlock(inum int16) int {
	return 1 + int(inum)/InodesPerBlock
}

func inodeOffset(inum int16) int {
	return (int(inum) % InodesPerBlock) * InodeSize
}

// LoadInode reads inode inum from the inode region.
func LoadInode(dev BlockDevice, inum int16) (*Inode, error) {
	data, err := dev.ReadBlock(inodeBlock(inum))
	if err != nil {
		return nil, err
	}
	off := inodeOffset(inum)
	var ino Inode
	if err := StructOf(data[off:off+InodeSize], &ino); err != nil {
		return nil, ErrInvalidStructBytes
	}
	return &ino, nil
}

// Store writes the inode back to its slot, read-modify-write on the
// containing block.
func (ino *Inode) Store(dev BlockDevice, inum int16) error {
	blk := inodeBlock(inum)
	data, err := dev.ReadBlock(blk)
	if err != nil {
		return err
	}
	raw, err := BytesOf(ino)
	if err != nil {
		return err
	}
	copy(data[inodeOffset(inum):], raw)
	return dev.WriteBlock(blk, data)
}
