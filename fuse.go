// FUSE surface over the storage engine. The kernel's node ids map onto
// inode numbers shifted by one, so the root directory (inode 0, name "/")
// is FUSE_ROOT_ID. There is no permission model underneath; every file
// reports 0644 and the root 0755.
package flatfs

import (
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/sirupsen/logrus"
)

type FuseFS struct {
	fuse.RawFileSystem
	fs        *FileSystem
	openfiles *OpenfileMap
}

func NewFuseFS(fs *FileSystem) *FuseFS {
	return &FuseFS{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		fs:            fs,
		openfiles:     NewOpenfileMap(),
	}
}

func (f *FuseFS) String() string {
	return "flatfs"
}

func nodeToInum(nodeid uint64) int16 {
	return int16(nodeid - 1)
}

func inumToNode(inum int16) uint64 {
	return uint64(inum) + 1
}

func (f *FuseFS) fillAttr(inum int16, out *fuse.Attr) fuse.Status {
	out.Ino = inumToNode(inum)
	out.Blksize = BlockSize
	if inum == 0 {
		out.Mode = fuse.S_IFDIR | 0755
		out.Nlink = 2
		return fuse.OK
	}
	ino, err := LoadInode(f.fs.dev, inum)
	if err != nil {
		logrus.Errorf("op=%s, err=%v, inum=%d", "fillAttr", err, inum)
		return fuse.EIO
	}
	out.Mode = fuse.S_IFREG | 0644
	out.Nlink = 1
	out.Size = uint64(ino.Length)
	out.Blocks = (uint64(ino.Length) + BlockSize - 1) / BlockSize
	return fuse.OK
}

func (f *FuseFS) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) fuse.Status {
	logrus.Debugf("[in ] op=%s, parent=%v, name=%s", "Lookup", header.NodeId, name)
	if header.NodeId != fuse.FUSE_ROOT_ID {
		return fuse.ENOTDIR
	}
	inum, ok := f.fs.Lookup(name)
	if !ok {
		return fuse.ENOENT
	}
	out.NodeId = inumToNode(inum)
	out.Generation = 1
	return f.fillAttr(inum, &out.Attr)
}

func (f *FuseFS) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) fuse.Status {
	logrus.Debugf("[in ] op=%s, ino=%v", "GetAttr", input.NodeId)
	return f.fillAttr(nodeToInum(input.NodeId), &out.Attr)
}

// modeOfFlags maps open(2) flags onto the engine's four open modes.
// Write-only without O_TRUNC has no exact counterpart and opens
// read-write.
func modeOfFlags(flags uint32) OpenMode {
	if flags&O_APPEND != 0 {
		return ModeAppend
	}
	if flags&O_TRUNC != 0 {
		return ModeWrite
	}
	if flags&O_ACCMODE == O_RDONLY {
		return ModeRead
	}
	return ModeReadWrite
}

func (f *FuseFS) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	logrus.Debugf("[in ] op=%s, ino=%v, flags=%v", "Open", input.NodeId, Join(DecodeFlags(input.Flags), "|"))
	name, ok := f.fs.filetable.NameOf(nodeToInum(input.NodeId))
	if !ok {
		return fuse.ENOENT
	}
	entry, err := f.fs.Open(name, modeOfFlags(input.Flags))
	if err == ErrInUse {
		return fuse.EBUSY
	}
	if err != nil {
		logrus.Errorf("op=%s, err=%v, name=%s", "Open", err, name)
		return fuse.EIO
	}
	out.Fh = f.openfiles.Register(entry)
	return fuse.OK
}

func (f *FuseFS) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) fuse.Status {
	logrus.Debugf("[in ] op=%s, name=%s, flags=%v", "Create", name, Join(DecodeFlags(input.Flags), "|"))
	if input.InHeader.NodeId != fuse.FUSE_ROOT_ID {
		return fuse.ENOTDIR
	}
	mode := modeOfFlags(input.Flags)
	if mode == ModeRead {
		mode = ModeReadWrite
	}
	entry, err := f.fs.Open(name, mode)
	if err == ErrDirectoryFull {
		return fuse.Status(syscall.ENOSPC)
	}
	if err != nil {
		logrus.Errorf("op=%s, err=%v, name=%s", "Create", err, name)
		return fuse.EIO
	}
	out.NodeId = inumToNode(entry.Inum())
	out.Generation = 1
	out.Fh = f.openfiles.Register(entry)
	return f.fillAttr(entry.Inum(), &out.Attr)
}

func (f *FuseFS) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (fuse.ReadResult, fuse.Status) {
	entry := f.openfiles.Get(input.Fh)
	if entry == nil {
		return nil, fuse.EBADF
	}
	if _, err := f.fs.Seek(entry, int(input.Offset), SeekSet); err != nil {
		return nil, fuse.EINVAL
	}
	n, err := f.fs.Read(entry, buf)
	if err != nil {
		logrus.Errorf("op=%s, err=%v, fh=%v", "Read", err, input.Fh)
		return nil, fuse.EIO
	}
	return fuse.ReadResultData(buf[:n]), fuse.OK
}

func (f *FuseFS) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (uint32, fuse.Status) {
	entry := f.openfiles.Get(input.Fh)
	if entry == nil {
		return 0, fuse.EBADF
	}
	if _, err := f.fs.Seek(entry, int(input.Offset), SeekSet); err != nil {
		return 0, fuse.EINVAL
	}
	n, err := f.fs.Write(entry, data)
	if err == ErrNoSpace {
		return uint32(n), fuse.Status(syscall.ENOSPC)
	}
	if err != nil {
		logrus.Errorf("op=%s, err=%v, fh=%v", "Write", err, input.Fh)
		return 0, fuse.EIO
	}
	return uint32(n), fuse.OK
}

func (f *FuseFS) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	entry := f.openfiles.Remove(input.Fh)
	if entry == nil {
		return
	}
	if err := f.fs.Close(entry); err != nil {
		logrus.Errorf("op=%s, err=%v, fh=%v", "Release", err, input.Fh)
	}
}

func (f *FuseFS) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	return fuse.OK
}

func (f *FuseFS) Fsync(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	if err := f.fs.Sync(); err != nil {
		return fuse.EIO
	}
	return fuse.OK
}

func (f *FuseFS) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	logrus.Debugf("[in ] op=%s, name=%s", "Unlink", name)
	if header.NodeId != fuse.FUSE_ROOT_ID {
		return fuse.ENOTDIR
	}
	if _, ok := f.fs.Lookup(name); !ok {
		return fuse.ENOENT
	}
	if err := f.fs.Delete(name); err != nil {
		logrus.Errorf("op=%s, err=%v, name=%s", "Unlink", err, name)
		return fuse.EIO
	}
	return fuse.OK
}

func (f *FuseFS) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) fuse.Status {
	if input.NodeId != fuse.FUSE_ROOT_ID {
		return fuse.ENOTDIR
	}
	return fuse.OK
}

func (f *FuseFS) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) fuse.Status {
	entries := f.fs.List()
	for i := int(input.Offset); i < len(entries); i++ {
		ok := out.AddDirEntry(fuse.DirEntry{
			Mode: fuse.S_IFREG,
			Name: entries[i].Name,
			Ino:  inumToNode(entries[i].Inum),
		})
		if !ok {
			break
		}
	}
	return fuse.OK
}

func (f *FuseFS) ReleaseDir(input *fuse.ReleaseIn) {
}

func (f *FuseFS) StatFs(cancel <-chan struct{}, header *fuse.InHeader, out *fuse.StatfsOut) fuse.Status {
	free, err := f.fs.FreeBlockCount()
	if err != nil {
		return fuse.EIO
	}
	out.Blocks = uint64(f.fs.superblock.TotalBlocks)
	out.Bfree = uint64(free)
	out.Bavail = uint64(free)
	out.Files = uint64(f.fs.superblock.InodeCount)
	out.Bsize = BlockSize
	out.NameLen = MaxNameChars
	return fuse.OK
}
