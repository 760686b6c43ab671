package sourcemaps

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// declMap is a decoded declaration map. It answers the reverse question the
// sourcemap library does not: given an original-source position, where in
// the generated declaration file does it land.
type declMap struct {
	Sources    []string
	SourceRoot string
	segments   []segment
}

// segment relates one generated position to one original position.
// Lines are one-based, columns zero-based, following the source-map format.
type segment struct {
	genLine  int
	genCol   int
	srcIdx   int
	origLine int
	origCol  int
}

func parseDeclMap(data []byte) (*declMap, error) {
	var raw struct {
		Version    int      `json:"version"`
		Sources    []string `json:"sources"`
		SourceRoot string   `json:"sourceRoot"`
		Mappings   string   `json:"mappings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.Version != 3 {
		return nil, fmt.Errorf("unsupported source map version %d", raw.Version)
	}
	segs, err := decodeMappings(raw.Mappings)
	if err != nil {
		return nil, err
	}
	return &declMap{Sources: raw.Sources, SourceRoot: raw.SourceRoot, segments: segs}, nil
}

// sourceIndex returns the index of the source whose resolved path ends with
// relPath, or -1.
func (m *declMap) sourceIndex(relPath string) int {
	for i, s := range m.Sources {
		resolved := s
		if m.SourceRoot != "" {
			resolved = m.SourceRoot + "/" + s
		}
		resolved = path.Clean(resolved)
		if resolved == relPath || strings.HasSuffix(resolved, "/"+relPath) {
			return i
		}
	}
	return -1
}

// generatedPosition finds the generated position for the given original
// position. origLine is one-based, origCol zero-based. Among segments on the
// original line, the one with the greatest column at or before origCol wins.
func (m *declMap) generatedPosition(srcIdx, origLine, origCol int) (genLine, genCol int, ok bool) {
	best := -1
	for i, seg := range m.segments {
		if seg.srcIdx != srcIdx || seg.origLine != origLine || seg.origCol > origCol {
			continue
		}
		if best < 0 || seg.origCol > m.segments[best].origCol {
			best = i
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return m.segments[best].genLine, m.segments[best].genCol, true
}

// decodeMappings decodes the base64 VLQ mappings field. Groups separated by
// ';' advance the generated line; segments within a group are ','-separated
// and carry deltas.
func decodeMappings(mappings string) ([]segment, error) {
	var segs []segment
	genLine := 1
	srcIdx, origLine, origCol := 0, 1, 0
	for _, group := range strings.Split(mappings, ";") {
		genCol := 0
		for _, raw := range strings.Split(group, ",") {
			if raw == "" {
				continue
			}
			fields, err := decodeVLQ(raw)
			if err != nil {
				return nil, err
			}
			if len(fields) < 1 {
				continue
			}
			genCol += fields[0]
			if len(fields) >= 4 {
				srcIdx += fields[1]
				origLine += fields[2]
				origCol += fields[3]
				segs = append(segs, segment{
					genLine:  genLine,
					genCol:   genCol,
					srcIdx:   srcIdx,
					origLine: origLine,
					origCol:  origCol,
				})
			}
		}
		genLine++
	}
	return segs, nil
}

const _base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

func decodeVLQ(s string) ([]int, error) {
	var out []int
	shift := uint(0)
	value := 0
	for _, c := range s {
		digit := strings.IndexRune(_base64Chars, c)
		if digit < 0 {
			return nil, fmt.Errorf("invalid VLQ character %q", c)
		}
		value += (digit & 0x1f) << shift
		if digit&0x20 != 0 {
			shift += 5
			continue
		}
		if value&1 != 0 {
			out = append(out, -(value >> 1))
		} else {
			out = append(out, value>>1)
		}
		shift, value = 0, 0
	}
	if shift != 0 {
		return nil, fmt.Errorf("truncated VLQ sequence %q", s)
	}
	return out, nil
}
