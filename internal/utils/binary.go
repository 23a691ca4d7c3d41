package utils

import (
	"bytes"
	"unicode/utf8"
)

// SniffLength is the number of leading bytes inspected when detecting binary content.
const SniffLength = 8000

// IsBinary reports whether data looks like binary content. A NUL byte or an
// invalid UTF-8 sequence marks the data as binary. When truncated is true the
// data is a prefix of a longer stream, so a multi-byte rune cut at the end is
// not treated as invalid.
func IsBinary(data []byte, truncated bool) bool {
	if len(data) == 0 {
		return false
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return true
	}
	if truncated {
		data = trimPartialRune(data)
	}
	return !utf8.Valid(data)
}

// SniffPrefix returns the part of data that binary detection inspects and
// whether it was shortened.
func SniffPrefix(data []byte) ([]byte, bool) {
	if len(data) > SniffLength {
		return data[:SniffLength], true
	}
	return data, false
}

func trimPartialRune(data []byte) []byte {
	for trailing := 1; trailing < utf8.UTFMax && trailing <= len(data); trailing++ {
		startIndex := len(data) - trailing
		if !utf8.RuneStart(data[startIndex]) {
			continue
		}
		if !utf8.FullRune(data[startIndex:]) {
			return data[:startIndex]
		}
		return data
	}
	return data
}
