package asset

import (
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
)

var rangeRe = regexp.MustCompile(`bytes=(\d+)-(\d*)`)

// ByteRange is an inclusive span of an object of Total bytes.
type ByteRange struct {
	Start int64
	End   int64
	Total int64
}

// Length is the number of bytes in the span.
func (r ByteRange) Length() int64 { return r.End - r.Start + 1 }

// ContentRange formats the Content-Range header value.
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.Total)
}

// ParseRange reads the first "bytes=<start>-<end>" span from header. A missing
// end means the last byte. ok is false for anything out of bounds or
// malformed; callers then serve the whole object.
//
// Suffix ranges ("bytes=-500") and multiple spans are not supported.
func ParseRange(header string, total int64) (ByteRange, bool) {
	if header == "" || total <= 0 {
		return ByteRange{}, false
	}
	m := rangeRe.FindStringSubmatch(header)
	if m == nil {
		return ByteRange{}, false
	}
	start, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return ByteRange{}, false
	}
	end := total - 1
	if m[2] != "" {
		end, err = strconv.ParseInt(m[2], 10, 64)
		if err != nil {
			return ByteRange{}, false
		}
	}
	if start < 0 || start >= total || end >= total || start > end {
		return ByteRange{}, false
	}
	return ByteRange{Start: start, End: end, Total: total}, true
}

// Validator derives the entity tag of a stored file from its modification
// time (unix ms) and size, both in hex.
func Validator(fi fs.FileInfo) string {
	return fmt.Sprintf(`"%x-%x"`, fi.ModTime().UnixMilli(), fi.Size())
}
