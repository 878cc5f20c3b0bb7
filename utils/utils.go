package utils

import (
	"strconv"
	"strings"
	"time"
)

// GetDatesString describes the time span of an album's images
func GetDatesString(min, max int64) string {
	if min == 0 || max == 0 {
		return "empty"
	}
	minString := time.Unix(min, 0).UTC().Format("2 Jan 2006")
	if max-min <= 86400 {
		return minString
	}
	maxString := time.Unix(max, 0).UTC().Format("2 Jan 2006")
	return minString + " - " + maxString
}

// StringToUInt64List parses a comma separated list of ids, skipping anything that is not one
func StringToUInt64List(in string) []uint64 {
	result := []uint64{}
	for _, part := range strings.Split(in, ",") {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err == nil && id > 0 {
			result = append(result, id)
		}
	}
	return result
}
