package server

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidRange is returned for Range headers that carry no usable offset
var ErrInvalidRange = errors.New("invalid range header")

// ByteRange is the first range of a "bytes=" Range header
type ByteRange struct {
	Start  int64
	End    int64
	HasEnd bool
}

// ParseRange parses "bytes=a-b" and "bytes=a-". Only the first range of a
// multi-range header is considered. Suffix ranges ("bytes=-n") carry no
// absolute offset and are rejected.
func ParseRange(header string) (ByteRange, error) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return ByteRange{}, ErrInvalidRange
	}
	if i := strings.IndexByte(spec, ','); i >= 0 {
		spec = spec[:i]
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok || startStr == "" {
		return ByteRange{}, ErrInvalidRange
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, ErrInvalidRange
	}

	if endStr == "" {
		return ByteRange{Start: start}, nil
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return ByteRange{}, ErrInvalidRange
	}

	return ByteRange{Start: start, End: end, HasEnd: true}, nil
}

// Offset is the number of bytes the client holds once this range is served:
// end+1 for a closed range, start for an open one.
func (r ByteRange) Offset() int64 {
	if r.HasEnd && r.End < math.MaxInt64 {
		return r.End + 1
	}
	if r.HasEnd {
		return r.End
	}
	return r.Start
}

// ClampOffset limits b to [0, size]. A non-positive size leaves b untouched
// apart from the lower bound.
func ClampOffset(b, size int64) int64 {
	if b < 0 {
		return 0
	}
	if size > 0 && b > size {
		return size
	}
	return b
}

// Percentage returns floor(b/size*100), capped at 100. A non-positive size
// yields 0.
func Percentage(b, size int64) int {
	if size <= 0 || b <= 0 {
		return 0
	}
	return int(ClampOffset(b, size) * 100 / size)
}
