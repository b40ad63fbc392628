package flatfs

import "sync"

// OpenMode is fixed when a file is opened and never changes for the life
// of the handle.
type OpenMode int

const (
	ModeRead OpenMode = iota
	ModeWrite
	ModeReadWrite
	ModeAppend
)

func (m OpenMode) String() string {
	switch m {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	case ModeReadWrite:
		return "w+"
	case ModeAppend:
		return "a"
	}
	return "?"
}

// ParseMode maps the conventional mode strings onto OpenMode.
func ParseMode(s string) (OpenMode, error) {
	switch s {
	case "r":
		return ModeRead, nil
	case "w":
		return ModeWrite, nil
	case "w+":
		return ModeReadWrite, nil
	case "a":
		return ModeAppend, nil
	}
	return 0, ErrInvalidArgument
}

// A FileTableEntry is one outstanding open: the seek pointer, the mode,
// and a reference to the shared in-memory inode. Operations on a single
// entry are serialized by its mutex; the inode object itself is shared by
// every entry open against the same inode number.
type FileTableEntry struct {
	mu      sync.Mutex
	seekPtr int
	inode   *Inode
	inum    int16
	count   int // threads sharing this entry
	mode    OpenMode
}

func newFileTableEntry(inode *Inode, inum int16, mode OpenMode) *FileTableEntry {
	e := &FileTableEntry{
		seekPtr: 0,
		inode:   inode,
		inum:    inum,
		count:   1,
		mode:    mode,
	}
	if mode == ModeAppend {
		e.seekPtr = int(inode.Length)
	}
	return e
}

// Inum reports the inode number the entry is open against.
func (e *FileTableEntry) Inum() int16 {
	return e.inum
}

// Mode reports the open mode.
func (e *FileTableEntry) Mode() OpenMode {
	return e.mode
}

// Retain adds one sharing thread. The matching Close releases it.
func (e *FileTableEntry) Retain() {
	e.mu.Lock()
	e.count++
	e.mu.Unlock()
}
