package flatfs

import (
	"encoding/binary"
	"sync"

	"github.com/sirupsen/logrus"
)

// FileTable is the system-wide registry of open files. It owns the
// admission rule: an inode's access flag decides whether a new opener
// proceeds or suspends, and every release broadcasts to all waiters, who
// re-check the flag. Allocate and release are serialized globally by the
// table lock; there is no fairness among waiters.
type FileTable struct {
	mu      sync.Mutex
	cond    *sync.Cond
	dev     BlockDevice
	dir     *Directory
	sb      *SuperBlock
	entries []*FileTableEntry
	inodes  map[int16]*Inode // loaded inodes, shared across entries
	pending map[int16]bool   // delete-pending inodes
}

func NewFileTable(dev BlockDevice, dir *Directory, sb *SuperBlock) *FileTable {
	ft := &FileTable{
		dev:     dev,
		dir:     dir,
		sb:      sb,
		inodes:  map[int16]*Inode{},
		pending: map[int16]bool{},
	}
	ft.cond = sync.NewCond(&ft.mu)
	return ft
}

// FAlloc opens name in mode: looks the name up, creating a fresh directory
// slot when the mode permits, loads or reuses the shared inode, applies
// the admission rule, persists the inode, and registers a new entry.
func (ft *FileTable) FAlloc(name string, mode OpenMode) (*FileTableEntry, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	inum := ft.dir.Lookup(name)
	flag := int16(-1)
	created := false

	if inum == -1 {
		if mode == ModeRead {
			logrus.Debugf("op=%s, name=%s does not exist for read", "FAlloc", name)
			return nil, ErrNotFound
		}
		var err error
		inum, err = ft.dir.Alloc(name)
		if err != nil {
			logrus.Errorf("op=%s, err=%v, name=%s", "FAlloc", err, name)
			return nil, err
		}
		created = true
		flag = FlagWriteQueued
	}

	var inode *Inode
	if created {
		// brand-new slot: never trust whatever stale record the recycled
		// inode slot still holds on disk
		inode = NewInode()
	} else {
		var ok bool
		inode, ok = ft.inodes[inum]
		if !ok {
			var err error
			inode, err = LoadInode(ft.dev, inum)
			if err != nil {
				return nil, err
			}
		}
	}

	// an in-progress exclusive write blocks this opener; broadcast wakes
	// everyone and each waiter re-checks
	for inode.Flag == FlagWriteExcl || inode.Flag == FlagReadWriteQueued || inode.Flag == FlagWriteQueued {
		ft.cond.Wait()
		if cur, ok := ft.inodes[inum]; ok {
			inode = cur
		} else {
			var err error
			inode, err = LoadInode(ft.dev, inum)
			if err != nil {
				return nil, err
			}
		}
	}

	switch mode {
	case ModeRead:
		flag = FlagRead
	case ModeWrite:
		flag = FlagWriteExcl
	case ModeReadWrite:
		// creation already forced write-queued for a brand-new file
		if flag == -1 {
			flag = FlagReadWriteQueued
		}
	case ModeAppend:
		flag = FlagWriteQueued
	default:
		return nil, ErrInvalidArgument
	}

	inode.Flag = flag
	inode.Count++
	ft.inodes[inum] = inode
	if err := inode.Store(ft.dev, inum); err != nil {
		return nil, err
	}

	entry := newFileTableEntry(inode, inum, mode)
	ft.entries = append(ft.entries, entry)
	logrus.Debugf("op=%s, name=%s inum=%d mode=%s flag=%d count=%d", "FAlloc", name, inum, mode, flag, inode.Count)
	return entry, nil
}

// FFree removes the entry from the table, collapses the inode's access
// flag, persists it, and wakes every waiter. A delete-pending inode whose
// last reference just left also gives up its blocks and directory slot
// here.
func (ft *FileTable) FFree(e *FileTableEntry) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	found := false
	for i, cur := range ft.entries {
		if cur == e {
			ft.entries = append(ft.entries[:i], ft.entries[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		return ErrInvalidHandle
	}

	inode := e.inode
	inode.Count--
	switch inode.Flag {
	case FlagRead, FlagWriteExcl:
		inode.Flag = FlagUnused
	case FlagReadWriteQueued, FlagWriteQueued:
		inode.Flag = FlagUnusedWriteReg
	}

	if inode.Count == 0 && ft.pending[e.inum] {
		if err := ft.deallocLocked(inode); err != nil {
			return err
		}
		ft.dir.Free(e.inum)
		delete(ft.pending, e.inum)
		inode.Flag = FlagUnused
		logrus.Debugf("op=%s, inum=%d deferred delete completed", "FFree", e.inum)
	}

	if err := inode.Store(ft.dev, e.inum); err != nil {
		return err
	}
	if inode.Count == 0 {
		delete(ft.inodes, e.inum)
	}
	ft.cond.Broadcast()
	return nil
}

// Truncate releases every block the entry's file holds and resets its
// length. Refused while any other handle references the inode: a file is
// never truncated out from under a concurrent reader or writer.
func (ft *FileTable) Truncate(e *FileTableEntry) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if e.inode.Count > 1 {
		return ErrInUse
	}
	if err := ft.deallocLocked(e.inode); err != nil {
		return err
	}
	return e.inode.Store(ft.dev, e.inum)
}

// MarkPendingDelete schedules the inode's directory slot and blocks for
// release at last close. The name stays visible until then, so a
// same-name open before that point attaches to the old inode; only after
// the last close does a create receive a fresh one.
func (ft *FileTable) MarkPendingDelete(inum int16) {
	ft.mu.Lock()
	ft.pending[inum] = true
	ft.mu.Unlock()
}

// deallocLocked returns every data block to the free list: each wired
// direct pointer, each nonzero indirect slot, and finally the indirect
// table's own block.
func (ft *FileTable) deallocLocked(inode *Inode) error {
	for i := 0; i < DirectSize; i++ {
		if inode.Direct[i] == UnusedBlock {
			continue
		}
		if err := ft.sb.ReturnBlock(int(inode.Direct[i])); err != nil {
			return err
		}
		inode.Direct[i] = UnusedBlock
	}

	if inode.Indirect != UnusedBlock {
		table, err := ft.dev.ReadBlock(int(inode.Indirect))
		if err != nil {
			return err
		}
		for i := 0; i < IndirectCount; i++ {
			blockno := int(binary.BigEndian.Uint16(table[i*2:]))
			if blockno == 0 {
				continue
			}
			if err := ft.sb.ReturnBlock(blockno); err != nil {
				return err
			}
		}
		if err := ft.sb.ReturnBlock(int(inode.Indirect)); err != nil {
			return err
		}
		inode.Indirect = UnusedBlock
	}

	inode.Length = 0
	return nil
}

// LookupName resolves a name under the table lock, since the directory's
// in-memory tables are mutated only while holding it.
func (ft *FileTable) LookupName(name string) int16 {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.dir.Lookup(name)
}

// NameOf resolves an inode number back to its name under the table lock.
func (ft *FileTable) NameOf(inum int16) (string, bool) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.dir.NameOf(inum)
}

// Entries snapshots the directory listing under the table lock.
func (ft *FileTable) Entries() []DirEntry {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.dir.List()
}

// Empty reports whether no file is open. Called before a format.
func (ft *FileTable) Empty() bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return len(ft.entries) == 0
}

// AwaitEmpty blocks until every entry has been released.
func (ft *FileTable) AwaitEmpty() {
	ft.mu.Lock()
	for len(ft.entries) > 0 {
		ft.cond.Wait()
	}
	ft.mu.Unlock()
}
