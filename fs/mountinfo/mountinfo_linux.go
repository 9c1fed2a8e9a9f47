//go:build linux

package mountinfo

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
)

// Read parses /proc/self/mountinfo.
func Read() (Table, error) {
	data, err := os.ReadFile("/proc/self/mountinfo")
	if err != nil {
		return nil, err
	}
	return parseTable(data)
}

func parseTable(data []byte) (Table, error) {
	var table Table
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; scanner.Scan(); line++ {
		mount, err := parseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("mountinfo line %d: %w", line, err)
		}
		table = append(table, mount)
	}
	return table, scanner.Err()
}

// parseLine reads
// "ID PARENT MAJOR:MINOR ROOT MOUNTPOINT OPTIONS [OPTIONAL...] - FSTYPE SOURCE SUPEROPTIONS".
func parseLine(line string) (Mount, error) {
	fields := strings.Fields(line)
	if len(fields) < 10 {
		return Mount{}, fmt.Errorf("expected at least 10 fields, found %d", len(fields))
	}
	separator := slices.Index(fields[6:], "-")
	if separator < 0 || len(fields) != 6+separator+4 {
		return Mount{}, errors.New(`expected separator "-" followed by three fields`)
	}
	separator += 6

	id, err := strconv.Atoi(fields[0])
	if err != nil {
		return Mount{}, fmt.Errorf("mount id: %w", err)
	}
	parentID, err := strconv.Atoi(fields[1])
	if err != nil {
		return Mount{}, fmt.Errorf("parent id: %w", err)
	}
	mount := Mount{
		ID:           id,
		ParentID:     parentID,
		Root:         unescape(fields[3]),
		MountPoint:   unescape(fields[4]),
		Options:      splitPairs(fields[5], ",", "="),
		FSType:       fields[separator+1],
		Source:       unescape(fields[separator+2]),
		SuperOptions: splitPairs(fields[separator+3], ",", "="),
	}
	if separator > 6 {
		mount.Propagation = map[string]string{}
		for _, tag := range fields[6:separator] {
			key, value, _ := strings.Cut(tag, ":")
			mount.Propagation[key] = value
		}
	}
	return mount, nil
}

func splitPairs(s, sep, assign string) map[string]string {
	pairs := map[string]string{}
	for item := range strings.SplitSeq(s, sep) {
		key, value, _ := strings.Cut(item, assign)
		pairs[key] = value
	}
	return pairs
}

// unescape decodes the octal escapes the kernel uses for space, tab, newline and backslash.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if c, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(c))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
