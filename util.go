package flatfs

import "fmt"

const O_RDONLY = 00
const O_WRONLY = 01
const O_RDWR = 02
const O_ACCMODE = 03
const O_CREAT = 0100
const O_EXCL = 0200
const O_TRUNC = 01000
const O_APPEND = 02000

func DecodeFlags(flags uint32) []string {
	var ret []string
	map_ := map[uint32]string{
		O_WRONLY: "O_WRONLY",
		O_RDWR:   "O_RDWR",
		O_CREAT:  "O_CREAT",
		O_EXCL:   "O_EXCL",
		O_TRUNC:  "O_TRUNC",
		O_APPEND: "O_APPEND",
	}
	if flags&O_ACCMODE == O_RDONLY {
		ret = append(ret, "O_RDONLY")
	}
	for k, v := range map_ {
		if flags&k != 0 {
			ret = append(ret, v)
		}
	}
	return ret
}

type Integer interface {
	int | int8 | int16 | int32 | int64 | uint | uint8 | uint16 | uint32 | uint64
}

func Min[T Integer](nums ...T) T {
	if len(nums) == 0 {
		panic(ErrUnreachable)
	}
	min := nums[0]
	for _, v := range nums[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

func Join[T any](a []T, sep string) string {
	var ret string
	for i, v := range a {
		if i != 0 {
			ret += sep
		}
		ret += fmt.Sprintf("%v", v)
	}
	return ret
}
