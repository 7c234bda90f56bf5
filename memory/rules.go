package memory

import (
	"context"
)

// RuleEngine is the pattern rule collaborator. The production
// implementation wraps yara; the collector compiles the rule source
// once per process and reuses the set across that process's regions.
type RuleEngine interface {
	Compile(source string) (RuleSet, error)
}

type RuleSet interface {
	// Scan returns the names of rules matching the data.
	Scan(data []byte) ([]string, error)
}

// RuleMatch records one rule hit inside a process region.
type RuleMatch struct {
	Pid        int32  `json:"pid"`
	RegionBase uint64 `json:"region_base"`
	Rule       string `json:"rule"`
}

// ScanRules feeds each accepted region of the process to the rule
// set. Regions larger than ChunkSize are scanned chunk by chunk with
// a one page overlap so signatures crossing a chunk boundary still
// hit.
func ScanRules(ctx context.Context, handle ProcessHandle,
	rules RuleSet, filter *RegionFilter) ([]*RuleMatch, error) {

	const overlap = 0x1000

	regions, err := handle.Regions()
	if err != nil {
		return nil, err
	}

	var result []*RuleMatch

	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if !filter.Match(region) {
			continue
		}

		seen := make(map[string]bool)

		buf := make([]byte, ChunkSize+overlap)
		carried := 0
		offset := uint64(0)

		for offset < region.Size {
			to_read := region.Size - offset
			if to_read > ChunkSize {
				to_read = ChunkSize
			}

			n, err := handle.ReadMemory(
				region.BaseAddress+offset, buf[carried:carried+int(to_read)])
			if n == 0 {
				break
			}

			names, scan_err := rules.Scan(buf[:carried+n])
			if scan_err == nil {
				for _, name := range names {
					if seen[name] {
						continue
					}
					seen[name] = true
					result = append(result, &RuleMatch{
						Pid:        handle.Pid(),
						RegionBase: region.BaseAddress,
						Rule:       name,
					})
				}
			}

			offset += uint64(n)
			if err != nil {
				break
			}

			window := carried + n
			carried = overlap
			if window < carried {
				carried = window
			}
			copy(buf[:carried], buf[window-carried:window])
		}
	}

	return result, nil
}
