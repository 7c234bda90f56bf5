package memory

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Pattern is a hex byte pattern with optional ?? wildcards, e.g.
// "DE AD ?? EF".
type Pattern struct {
	bytes []byte
	mask  []bool // true = significant byte
}

func (self *Pattern) Len() int {
	return len(self.bytes)
}

// ParsePattern accepts hex digit pairs separated by optional
// whitespace; a pair of "??" matches any byte.
func ParsePattern(in string) (*Pattern, error) {
	cleaned := strings.Join(strings.Fields(in), "")
	if len(cleaned) == 0 || len(cleaned)%2 != 0 {
		return nil, errors.Errorf(
			"pattern must be an even number of hex digits: %q", in)
	}

	result := &Pattern{}
	for i := 0; i < len(cleaned); i += 2 {
		pair := cleaned[i : i+2]
		if pair == "??" {
			result.bytes = append(result.bytes, 0)
			result.mask = append(result.mask, false)
			continue
		}

		value, err := parseHexPair(pair)
		if err != nil {
			return nil, err
		}
		result.bytes = append(result.bytes, value)
		result.mask = append(result.mask, true)
	}

	return result, nil
}

func parseHexPair(pair string) (byte, error) {
	result := byte(0)
	for i := 0; i < 2; i++ {
		c := pair[i]
		var digit byte
		switch {
		case c >= '0' && c <= '9':
			digit = c - '0'
		case c >= 'a' && c <= 'f':
			digit = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			digit = c - 'A' + 10
		default:
			return 0, errors.Errorf("invalid hex digit %q", string(c))
		}
		result = result<<4 | digit
	}
	return result, nil
}

func (self *Pattern) matchAt(buf []byte, offset int) bool {
	if offset+len(self.bytes) > len(buf) {
		return false
	}
	for i, b := range self.bytes {
		if self.mask[i] && buf[offset+i] != b {
			return false
		}
	}
	return true
}

// findAll returns all match offsets of the pattern within buf.
func (self *Pattern) findAll(buf []byte) []int {
	var result []int
	for i := 0; i+len(self.bytes) <= len(buf); i++ {
		if self.matchAt(buf, i) {
			result = append(result, i)
		}
	}
	return result
}

// Match is one pattern hit inside a process region.
type Match struct {
	Pid        int32  `json:"pid"`
	RegionBase uint64 `json:"region_base"`

	// Offset of the match relative to the region base.
	Offset uint64 `json:"match_offset"`
}

// Search scans the accepted regions of a process chunk by chunk. A
// pattern straddling a chunk boundary is found by carrying the last
// len(pattern)-1 bytes of each chunk into the next window.
func Search(ctx context.Context, handle ProcessHandle,
	pattern *Pattern, filter *RegionFilter) ([]*Match, error) {

	regions, err := handle.Regions()
	if err != nil {
		return nil, err
	}

	var result []*Match

	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if !filter.Match(region) {
			continue
		}

		matches, err := searchRegion(ctx, handle, region, pattern)
		if err != nil {
			// An unreadable region is skipped and not recorded -
			// search is best effort across the address space.
			continue
		}
		result = append(result, matches...)
	}

	return result, nil
}

func searchRegion(ctx context.Context, handle ProcessHandle,
	region *MemoryRegion, pattern *Pattern) ([]*Match, error) {

	overlap := pattern.Len() - 1
	if overlap < 0 {
		overlap = 0
	}

	var result []*Match

	buf := make([]byte, ChunkSize+overlap)
	carried := 0
	offset := uint64(0) // region offset of the next read

	for offset < region.Size {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		to_read := region.Size - offset
		if to_read > ChunkSize {
			to_read = ChunkSize
		}

		n, err := handle.ReadMemory(
			region.BaseAddress+offset, buf[carried:carried+int(to_read)])
		if n == 0 {
			if err != nil {
				return result, err
			}
			break
		}

		window := buf[:carried+n]
		// Region offset of the first byte of the window.
		window_base := offset - uint64(carried)

		for _, idx := range pattern.findAll(window) {
			match_offset := window_base + uint64(idx)

			// Matches entirely inside the carried overlap were
			// already reported by the previous window.
			if carried > 0 && idx+pattern.Len() <= carried {
				continue
			}

			result = append(result, &Match{
				Pid:        handle.Pid(),
				RegionBase: region.BaseAddress,
				Offset:     match_offset,
			})
		}

		offset += uint64(n)

		if err != nil {
			// Partial region read: report what we have.
			return result, nil
		}

		// Carry the tail into the next window.
		carried = overlap
		if window_len := len(window); window_len < carried {
			carried = window_len
		}
		copy(buf[:carried], window[len(window)-carried:])
	}

	return result, nil
}
