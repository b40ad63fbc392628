package flatfs

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileBlockDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device.bin")
	dev, err := NewFileBlockDevice(path, 32)
	require.NoError(t, err)
	defer dev.Close()

	require.Equal(t, 32, dev.GetTotalBlockCount())

	data := pattern(BlockSize)
	require.NoError(t, dev.WriteBlock(7, data))
	got, err := dev.ReadBlock(7)
	require.NoError(t, err)
	require.Equal(t, data, got)

	// untouched blocks read back zeroed
	got, err = dev.ReadBlock(8)
	require.NoError(t, err)
	require.Equal(t, make([]byte, BlockSize), got)
}

func TestMemBlockDeviceBounds(t *testing.T) {
	dev := NewMemBlockDevice(4)

	_, err := dev.ReadBlock(4)
	require.Error(t, err)
	require.Error(t, dev.WriteBlock(-1, make([]byte, BlockSize)))
	require.Error(t, dev.WriteBlock(0, make([]byte, 10)))

	require.NoError(t, dev.WriteBlock(3, pattern(BlockSize)))
	got, err := dev.ReadBlock(3)
	require.NoError(t, err)
	require.Equal(t, pattern(BlockSize), got)
}

func TestMemBlockDeviceCopiesOnRead(t *testing.T) {
	dev := NewMemBlockDevice(2)
	require.NoError(t, dev.WriteBlock(0, make([]byte, BlockSize)))

	got, _ := dev.ReadBlock(0)
	got[0] = 0xFF
	again, _ := dev.ReadBlock(0)
	require.Equal(t, byte(0), again[0])
}
