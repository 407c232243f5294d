package config

import (
	"errors"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes. In the environment it is written as a plain
// byte count or with a binary unit: 512KB, 100MB, 1GB.
type ByteSize int64

var byteUnits = []struct {
	suffix string
	size   ByteSize
}{
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseByteSize parses a byte count with an optional KB, MB or GB suffix.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := ByteSize(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(s, u.suffix) {
			s, mult = strings.TrimSpace(strings.TrimSuffix(s, u.suffix)), u.size
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.New("invalid size, want a byte count such as 1048576 or 100MB")
	}
	return ByteSize(n) * mult, nil
}

func (b ByteSize) String() string {
	for _, u := range byteUnits {
		if b >= u.size && b%u.size == 0 {
			return strconv.FormatInt(int64(b/u.size), 10) + u.suffix
		}
	}
	return strconv.FormatInt(int64(b), 10) + "B"
}
