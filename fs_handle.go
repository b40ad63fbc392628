package flatfs

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// OpenfileMap hands out the 64-bit file handles the FUSE layer speaks and
// keeps them bound to open file table entries.
type OpenfileMap struct {
	mu      sync.Mutex
	nextgen uint64
	files   map[uint64]*FileTableEntry
}

func NewOpenfileMap() *OpenfileMap {
	return &OpenfileMap{
		nextgen: 1,
		files:   map[uint64]*FileTableEntry{},
	}
}

func (m *OpenfileMap) Get(fh uint64) *FileTableEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[fh]
}

func (m *OpenfileMap) Register(e *FileTableEntry) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	fh := m.nextgen
	m.nextgen++
	m.files[fh] = e
	logrus.Debugf("op=%s, fh=%v inum=%v mode=%v", "OpenfileMap.Register", fh, e.Inum(), e.Mode())
	return fh
}

func (m *OpenfileMap) Remove(fh uint64) *FileTableEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.files[fh]
	delete(m.files, fh)
	return e
}
