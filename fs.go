package flatfs

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

// Seek origins.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// FileSystem is the façade over the storage engine: superblock, directory,
// and open-file table, all bound to one block device at mount time.
type FileSystem struct {
	dev        BlockDevice
	superblock *SuperBlock
	directory  *Directory
	filetable  *FileTable
}

// NewFileSystem mounts the device: reads (or formats) the superblock and
// rebuilds the directory from inode 0's content.
func NewFileSystem(dev BlockDevice) (*FileSystem, error) {
	sb, err := NewSuperBlock(dev)
	if err != nil {
		return nil, err
	}
	dir := NewDirectory(sb.InodeCount)
	fs := &FileSystem{
		dev:        dev,
		superblock: sb,
		directory:  dir,
		filetable:  NewFileTable(dev, dir, sb),
	}

	// directory reconstruction
	dirEnt, err := fs.Open("/", ModeRead)
	if err != nil {
		return nil, err
	}
	dirSize, err := fs.Size(dirEnt)
	if err != nil {
		fs.Close(dirEnt)
		return nil, err
	}
	if dirSize > 0 {
		dirData := make([]byte, dirSize)
		if _, err := fs.Read(dirEnt, dirData); err != nil {
			fs.Close(dirEnt)
			return nil, err
		}
		if err := dir.FromBytes(dirData); err != nil {
			fs.Close(dirEnt)
			return nil, err
		}
	}
	if err := fs.Close(dirEnt); err != nil {
		return nil, err
	}
	logrus.Infof("op=%s, blocks=%d inodes=%d", "Mount", sb.TotalBlocks, sb.InodeCount)
	return fs, nil
}

// Sync flattens the directory back into inode 0 and persists the
// superblock. Metadata is written synchronously but not atomically across
// blocks; a crash mid-sync can leak blocks.
func (fs *FileSystem) Sync() error {
	dirEnt, err := fs.Open("/", ModeWrite)
	if err != nil {
		return err
	}
	if _, err := fs.Write(dirEnt, fs.directory.Bytes()); err != nil {
		fs.Close(dirEnt)
		return err
	}
	if err := fs.Close(dirEnt); err != nil {
		return err
	}
	return fs.superblock.Sync()
}

// Format waits until no file is open, then reformats the disk for the
// given file capacity and resets the directory and file table.
func (fs *FileSystem) Format(files int) error {
	fs.filetable.AwaitEmpty()

	if err := fs.superblock.Format(files); err != nil {
		return err
	}
	fs.directory = NewDirectory(fs.superblock.InodeCount)
	fs.filetable = NewFileTable(fs.dev, fs.directory, fs.superblock)
	return nil
}

// Open opens (and in any mode but read, creates) name. Truncate-write mode
// discards the file's existing blocks before the first write; that is
// refused, and the open fails, while other handles reference the inode.
func (fs *FileSystem) Open(name string, mode OpenMode) (*FileTableEntry, error) {
	entry, err := fs.filetable.FAlloc(name, mode)
	if err != nil {
		return nil, err
	}

	if mode == ModeWrite {
		if err := fs.filetable.Truncate(entry); err != nil {
			fs.Close(entry)
			logrus.Debugf("op=%s, name=%s err=%v", "Open", name, err)
			return nil, err
		}
	}
	return entry, nil
}

// Close drops one sharing thread from the entry; the last one out releases
// the table entry and wakes admission waiters.
func (fs *FileSystem) Close(e *FileTableEntry) error {
	if e == nil {
		return ErrInvalidHandle
	}
	e.mu.Lock()
	e.count--
	remaining := e.count
	e.mu.Unlock()
	if remaining > 0 {
		return nil
	}
	return fs.filetable.FFree(e)
}

// Size reports the file's length in bytes.
func (fs *FileSystem) Size(e *FileTableEntry) (int, error) {
	if e == nil {
		return -1, ErrInvalidHandle
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.inode.Length), nil
}

// blockPos is a resolved seek pointer: which pointer region addresses it,
// the index within that region, and the byte offset inside the block.
type blockPos struct {
	indirect bool
	index    int
	off      int
}

// resolvePos translates a byte offset into a block coordinate. Shared by
// the read and write walks so the direct/indirect boundary logic exists
// exactly once.
func resolvePos(seekPtr int) blockPos {
	idx := seekPtr / BlockSize
	if idx < DirectSize {
		return blockPos{indirect: false, index: idx, off: seekPtr % BlockSize}
	}
	return blockPos{
		indirect: true,
		index:    idx - DirectSize,
		off:      (seekPtr - DirectSize*BlockSize) % BlockSize,
	}
}

// lookupBlock resolves pos to a physical block number, never allocating.
func (fs *FileSystem) lookupBlock(ino *Inode, pos blockPos) (int, error) {
	if !pos.indirect {
		if ino.Direct[pos.index] == UnusedBlock {
			return -1, ErrInvalidArgument
		}
		return int(ino.Direct[pos.index]), nil
	}
	if ino.Indirect == UnusedBlock {
		return -1, ErrInvalidArgument
	}
	table, err := fs.dev.ReadBlock(int(ino.Indirect))
	if err != nil {
		return -1, err
	}
	blockno := int(binary.BigEndian.Uint16(table[pos.index*2:]))
	if blockno == 0 {
		return -1, ErrInvalidArgument
	}
	return blockno, nil
}

// ensureBlock resolves pos to a physical block number, allocating from the
// superblock on demand. A new direct pointer is installed in memory only
// (the final inode flush persists it); a new indirect-table entry is
// written back to disk immediately, as is the table's own backing block
// the first time the file needs a twelfth block.
func (fs *FileSystem) ensureBlock(ino *Inode, pos blockPos) (int, error) {
	if !pos.indirect {
		if ino.Direct[pos.index] == UnusedBlock {
			blockno, err := fs.superblock.GetFreeBlock()
			if err != nil {
				return -1, err
			}
			ino.Direct[pos.index] = int16(blockno)
		}
		return int(ino.Direct[pos.index]), nil
	}

	if ino.Indirect == UnusedBlock {
		blockno, err := fs.superblock.GetFreeBlock()
		if err != nil {
			return -1, err
		}
		// the freshly allocated table arrives zeroed, every slot empty
		ino.Indirect = int16(blockno)
	}
	table, err := fs.dev.ReadBlock(int(ino.Indirect))
	if err != nil {
		return -1, err
	}
	blockno := int(binary.BigEndian.Uint16(table[pos.index*2:]))
	if blockno == 0 {
		blockno, err = fs.superblock.GetFreeBlock()
		if err != nil {
			return -1, err
		}
		binary.BigEndian.PutUint16(table[pos.index*2:], uint16(blockno))
		if err := fs.dev.WriteBlock(int(ino.Indirect), table); err != nil {
			return -1, err
		}
	}
	return blockno, nil
}

// Read copies bytes from the file into buffer, starting at the entry's
// seek pointer, until the buffer is full or EOF. Crossing a block boundary
// re-resolves the next block, switching from direct to indirect addressing
// transparently. Returns the byte count; a short count at EOF is not an
// error.
func (fs *FileSystem) Read(e *FileTableEntry, buffer []byte) (int, error) {
	if e == nil {
		return -1, ErrInvalidHandle
	}
	if e.mode == ModeWrite || e.mode == ModeAppend {
		return -1, ErrInvalidMode
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	length := int(e.inode.Length)
	if e.seekPtr < 0 || e.seekPtr > length {
		return -1, ErrInvalidArgument
	}

	n := 0
	for n < len(buffer) && e.seekPtr < length {
		pos := resolvePos(e.seekPtr)
		blockno, err := fs.lookupBlock(e.inode, pos)
		if err != nil {
			if n > 0 {
				break
			}
			return -1, err
		}
		data, err := fs.dev.ReadBlock(blockno)
		if err != nil {
			return -1, err
		}

		chunk := Min(BlockSize-pos.off, len(buffer)-n, length-e.seekPtr)
		copy(buffer[n:], data[pos.off:pos.off+chunk])
		n += chunk
		e.seekPtr += chunk
	}
	return n, nil
}

// Write copies buffer into the file starting at the entry's seek pointer
// (forced to EOF first in append mode), allocating blocks on demand and
// extending the length by exactly the bytes written beyond it. Stops at
// the capacity ceiling with the partial count; an allocation failure also
// returns the partial count, alongside ErrNoSpace, and everything written
// so far stays committed.
func (fs *FileSystem) Write(e *FileTableEntry, buffer []byte) (int, error) {
	if e == nil {
		return -1, ErrInvalidHandle
	}
	if e.mode == ModeRead {
		return -1, ErrInvalidMode
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == ModeAppend {
		e.seekPtr = int(e.inode.Length)
	}

	priorLength := int(e.inode.Length)
	n := 0
	var outOfSpace bool
	for n < len(buffer) && e.seekPtr < MaxFileSize {
		pos := resolvePos(e.seekPtr)
		blockno, err := fs.ensureBlock(e.inode, pos)
		if err == ErrNoSpace {
			logrus.Debugf("op=%s, inum=%d out of space after %d bytes", "Write", e.inum, n)
			outOfSpace = true
			break
		}
		if err != nil {
			return -1, err
		}
		data, err := fs.dev.ReadBlock(blockno)
		if err != nil {
			return -1, err
		}

		chunk := Min(BlockSize-pos.off, len(buffer)-n, MaxFileSize-e.seekPtr)
		copy(data[pos.off:], buffer[n:n+chunk])
		if err := fs.dev.WriteBlock(blockno, data); err != nil {
			return -1, err
		}
		n += chunk
		e.seekPtr += chunk
	}

	if e.seekPtr > priorLength {
		e.inode.Length = int32(e.seekPtr)
	}
	if err := e.inode.Store(fs.dev, e.inum); err != nil {
		return -1, err
	}
	if outOfSpace {
		return n, ErrNoSpace
	}
	return n, nil
}

// Seek repositions the entry's pointer relative to the start, the current
// position, or the end of the file, clamping the result into [0, length].
// Seeking never extends a file; only writing does.
func (fs *FileSystem) Seek(e *FileTableEntry, offset int, whence int) (int, error) {
	if e == nil {
		return -1, ErrInvalidHandle
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch whence {
	case SeekSet:
		e.seekPtr = offset
	case SeekCur:
		e.seekPtr += offset
	case SeekEnd:
		e.seekPtr = int(e.inode.Length) + offset
	default:
		return -1, ErrInvalidArgument
	}

	if e.seekPtr < 0 {
		e.seekPtr = 0
	} else if e.seekPtr > int(e.inode.Length) {
		e.seekPtr = int(e.inode.Length)
	}
	return e.seekPtr, nil
}

// Delete destroys name. The write-open serializes against concurrent
// exclusive writers; if other handles still reference the inode, the
// blocks and the directory slot are released only when the last of them
// closes, and until then the name remains visible.
func (fs *FileSystem) Delete(name string) error {
	entry, err := fs.filetable.FAlloc(name, ModeWrite)
	if err != nil {
		return err
	}
	fs.filetable.MarkPendingDelete(entry.inum)
	logrus.Debugf("op=%s, name=%s inum=%d", "Delete", name, entry.inum)
	return fs.Close(entry)
}

// FreeBlockCount reports how many blocks the free list currently holds.
func (fs *FileSystem) FreeBlockCount() (int, error) {
	return fs.superblock.FreeBlockCount()
}

// Lookup resolves a name to its inode number without opening it.
func (fs *FileSystem) Lookup(name string) (int16, bool) {
	inum := fs.filetable.LookupName(name)
	return inum, inum != -1
}

// List returns the current directory entries, excluding the root.
func (fs *FileSystem) List() []DirEntry {
	return fs.filetable.Entries()
}
