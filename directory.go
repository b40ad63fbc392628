package flatfs

import (
	"encoding/binary"
)

// MaxNameChars is the directory slot width in characters. On disk each
// name occupies a fixed 60-byte slot, 2 bytes per character, preceded by
// the parallel array of int32 name lengths. Names are not terminated;
// length 0 marks a free slot.
const MaxNameChars = 30

const nameSlotBytes = MaxNameChars * 2

// Directory is the one flat namespace, mapping file name to inode number
// by slot index. It is persisted as the byte content of inode 0 and lives
// fully in memory between mount and sync. Not safe for concurrent use on
// its own; the file table's lock covers it.
type Directory struct {
	sizes []int32
	names [][]rune
}

// NewDirectory builds an empty directory with maxInodes slots. Slot 0 is
// permanently "/".
func NewDirectory(maxInodes int) *Directory {
	d := &Directory{
		sizes: make([]int32, maxInodes),
		names: make([][]rune, maxInodes),
	}
	for i := range d.names {
		d.names[i] = make([]rune, 0, MaxNameChars)
	}
	d.sizes[0] = 1
	d.names[0] = []rune{'/'}
	return d
}

// FromBytes rebuilds the directory from inode 0's content.
func (d *Directory) FromBytes(data []byte) error {
	expected := len(d.sizes)*4 + len(d.names)*nameSlotBytes
	if len(data) != expected {
		return ErrInvalidStructBytes
	}

	off := 0
	for i := range d.sizes {
		d.sizes[i] = int32(binary.BigEndian.Uint32(data[off:]))
		off += 4
	}
	for i := range d.names {
		if d.sizes[i] < 0 || d.sizes[i] > MaxNameChars {
			d.sizes[i] = 0
		}
		name := make([]rune, d.sizes[i])
		for j := range name {
			name[j] = rune(binary.BigEndian.Uint16(data[off+j*2:]))
		}
		d.names[i] = name
		off += nameSlotBytes
	}
	return nil
}

// Bytes flattens the directory for writing back to inode 0.
func (d *Directory) Bytes() []byte {
	data := make([]byte, len(d.sizes)*4+len(d.names)*nameSlotBytes)

	off := 0
	for i := range d.sizes {
		binary.BigEndian.PutUint32(data[off:], uint32(d.sizes[i]))
		off += 4
	}
	for i := range d.names {
		for j, ch := range d.names[i] {
			binary.BigEndian.PutUint16(data[off+j*2:], uint16(ch))
		}
		off += nameSlotBytes
	}
	return data
}

// Alloc takes the first free slot for name and returns its inode number.
// Names longer than MaxNameChars are truncated. Linear scan, slot 0 never
// considered.
func (d *Directory) Alloc(name string) (int16, error) {
	runes := []rune(name)
	if len(runes) > MaxNameChars {
		runes = runes[:MaxNameChars]
	}
	for i := 1; i < len(d.sizes); i++ {
		if d.sizes[i] == 0 {
			d.sizes[i] = int32(len(runes))
			d.names[i] = runes
			return int16(i), nil
		}
	}
	return -1, ErrDirectoryFull
}

// Free releases the slot for inum. Slot 0 cannot be freed.
func (d *Directory) Free(inum int16) bool {
	if inum < 1 || int(inum) >= len(d.sizes) {
		return false
	}
	d.sizes[inum] = 0
	d.names[inum] = nil
	return true
}

// Lookup returns the inode number bound to name, or -1.
func (d *Directory) Lookup(name string) int16 {
	runes := []rune(name)
	for i := range d.sizes {
		if int(d.sizes[i]) != len(runes) {
			continue
		}
		if string(d.names[i]) == name {
			return int16(i)
		}
	}
	return -1
}

// NameOf returns the name bound to inum, if the slot is occupied.
func (d *Directory) NameOf(inum int16) (string, bool) {
	if inum < 0 || int(inum) >= len(d.sizes) || d.sizes[inum] == 0 {
		return "", false
	}
	return string(d.names[inum]), true
}

// List returns the occupied slots, excluding the root entry.
func (d *Directory) List() []DirEntry {
	var out []DirEntry
	for i := 1; i < len(d.sizes); i++ {
		if d.sizes[i] != 0 {
			out = append(out, DirEntry{Name: string(d.names[i]), Inum: int16(i)})
		}
	}
	return out
}

type DirEntry struct {
	Name string
	Inum int16
}
