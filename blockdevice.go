package flatfs

import (
	"os"

	"github.com/pkg/errors"
)

// BlockSize is the only addressable granularity of a device. All reads
// and writes move whole blocks.
const BlockSize = 512

type BlockDevice interface {
	ReadBlock(blockno int) ([]byte, error)
	WriteBlock(blockno int, data []byte) error
	GetTotalBlockCount() int
}

// FileBlockDevice backs a device with an ordinary file, one block per
// BlockSize bytes.
type FileBlockDevice struct {
	file       *os.File
	blockcount int
}

func NewFileBlockDevice(path string, blockcount int) (*FileBlockDevice, error) {
	// create if not exists
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open device image")
	}
	// truncate to blockcount * blocksize
	err = file.Truncate(int64(blockcount * BlockSize))
	if err != nil {
		return nil, errors.Wrap(err, "size device image")
	}

	return &FileBlockDevice{
		file:       file,
		blockcount: blockcount,
	}, nil
}

func (f *FileBlockDevice) ReadBlock(blockno int) ([]byte, error) {
	data := make([]byte, BlockSize)
	nbytes, err := f.file.ReadAt(data, int64(blockno)*BlockSize)
	if err != nil {
		return nil, err
	}
	if nbytes != BlockSize {
		return nil, errors.New("short read")
	}
	return data, nil
}

func (f *FileBlockDevice) WriteBlock(blockno int, data []byte) error {
	nbytes, err := f.file.WriteAt(data, int64(blockno)*BlockSize)
	if err != nil {
		return err
	}
	if nbytes != BlockSize {
		return errors.New("short write")
	}
	return nil
}

func (f *FileBlockDevice) GetTotalBlockCount() int {
	return f.blockcount
}

func (f *FileBlockDevice) Close() error {
	return f.file.Close()
}

// MemBlockDevice keeps all blocks in memory. Used by tests and throwaway
// mounts.
type MemBlockDevice struct {
	blocks [][]byte
}

func NewMemBlockDevice(blockcount int) *MemBlockDevice {
	blocks := make([][]byte, blockcount)
	for i := range blocks {
		blocks[i] = make([]byte, BlockSize)
	}
	return &MemBlockDevice{blocks: blocks}
}

func (m *MemBlockDevice) ReadBlock(blockno int) ([]byte, error) {
	if blockno < 0 || blockno >= len(m.blocks) {
		return nil, ErrInvalidArgument
	}
	data := make([]byte, BlockSize)
	copy(data, m.blocks[blockno])
	return data, nil
}

func (m *MemBlockDevice) WriteBlock(blockno int, data []byte) error {
	if blockno < 0 || blockno >= len(m.blocks) {
		return ErrInvalidArgument
	}
	if len(data) != BlockSize {
		return ErrInvalidArgument
	}
	copy(m.blocks[blockno], data)
	return nil
}

func (m *MemBlockDevice) GetTotalBlockCount() int {
	return len(m.blocks)
}
