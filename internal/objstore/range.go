package objstore

import (
	"errors"
	"strconv"
	"strings"
)

var errUnsatisfiableRange = errors.New("unsatisfiable range")

// byteRange is an inclusive range within an object.
type byteRange struct {
	Start, End int64
}

func (b byteRange) length() int64 {
	return b.End - b.Start + 1
}

// parseRange interprets a single-range Range header against an object of
// size bytes. It returns ok=false when the header should be ignored and the
// whole object served, which is what S3 does for malformed or multi-range
// values.
func parseRange(header string, size int64) (byteRange, bool, error) {
	rng, found := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !found || rng == "" || strings.Contains(rng, ",") {
		return byteRange{}, false, nil
	}

	first, last, found := strings.Cut(rng, "-")
	if !found {
		return byteRange{}, false, nil
	}

	// Suffix form: bytes=-N is the final N bytes.
	if first == "" {
		n, err := strconv.ParseInt(last, 10, 64)
		if err != nil || n < 0 {
			return byteRange{}, false, nil
		}
		if n == 0 || size == 0 {
			return byteRange{}, false, errUnsatisfiableRange
		}
		return byteRange{Start: max(size-n, 0), End: size - 1}, true, nil
	}

	start, err := strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, false, nil
	}
	if start >= size {
		return byteRange{}, false, errUnsatisfiableRange
	}

	end := size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return byteRange{}, false, nil
		}
		end = min(end, size-1)
	}
	return byteRange{Start: start, End: end}, true, nil
}
