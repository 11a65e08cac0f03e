package api

import (
	"errors"
	"strconv"
	"strings"
)

var (
	errInvalidRange        = errors.New("invalid range")
	errRangeNotSatisfiable = errors.New("range not satisfiable")
)

// parseByteRange parses a single-range "bytes=" header against size and
// returns the inclusive start and end offsets.
func parseByteRange(value string, size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, errRangeNotSatisfiable
	}

	value = strings.TrimSpace(value)
	if !strings.HasPrefix(strings.ToLower(value), "bytes=") {
		return 0, 0, errInvalidRange
	}

	rng := strings.TrimSpace(value[len("bytes="):])
	if rng == "" || strings.Contains(rng, ",") {
		return 0, 0, errInvalidRange
	}

	startStr, endStr, found := strings.Cut(rng, "-")
	if !found {
		return 0, 0, errInvalidRange
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	// Suffix range: last N bytes.
	if startStr == "" {
		suffix, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || suffix <= 0 {
			return 0, 0, errInvalidRange
		}
		if suffix > size {
			suffix = size
		}
		return size - suffix, size - 1, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return 0, 0, errInvalidRange
	}
	if start >= size {
		return 0, 0, errRangeNotSatisfiable
	}

	if endStr == "" {
		return start, size - 1, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return 0, 0, errInvalidRange
	}
	if end >= size {
		end = size - 1
	}
	return start, end, nil
}
