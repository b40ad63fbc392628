package flatfs

// FsErr is a file system level error. Everything that crosses the storage
// boundary is a value from the catalog below; device and OS failures are
// wrapped and propagated as-is.
type FsErr struct {
	Code int
	Msg  string
}

func (e FsErr) Error() string {
	return e.Msg
}

func (e FsErr) GetCode() int {
	return e.Code
}

func NewFsErr(code int, msg string) FsErr {
	return FsErr{
		Code: code,
		Msg:  msg,
	}
}

var ErrNotFound = NewFsErr(1, "file not found")
var ErrInvalidMode = NewFsErr(2, "operation does not match open mode")
var ErrInvalidHandle = NewFsErr(3, "invalid file handle")
var ErrNoSpace = NewFsErr(4, "no free block")
var ErrDirectoryFull = NewFsErr(5, "no free directory slot")
var ErrInUse = NewFsErr(6, "file is open elsewhere")
var ErrInvalidArgument = NewFsErr(7, "invalid argument")
var ErrInvalidStructBytes = NewFsErr(8, "invalid struct bytes")
var ErrDeviceTooSmall = NewFsErr(9, "device is too small")
var ErrUnreachable = NewFsErr(10, "unreachable")
