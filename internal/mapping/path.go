package mapping

import (
	"strconv"
	"strings"
)

// ExtractPath navigates a nested structure by a dotted/indexed path like
// "output.setlinfo.setl_id" or "items[0].name"; a bare numeric segment also
// indexes an array. Extraction is total: every hop failure — missing key,
// non-container value, out-of-range index — yields nil, never an error.
func ExtractPath(source any, path string) any {
	if path == "" {
		return source
	}

	current := source
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			return nil
		}
		name, indices, ok := parseSegment(segment)
		if !ok {
			return nil
		}

		if name != "" {
			switch container := current.(type) {
			case map[string]any:
				v, exists := container[name]
				if !exists {
					return nil
				}
				current = v
			case []any:
				idx, err := strconv.Atoi(name)
				if err != nil {
					return nil
				}
				current = indexInto(container, idx)
				if current == nil {
					return nil
				}
			default:
				return nil
			}
		}

		for _, idx := range indices {
			arr, ok := current.([]any)
			if !ok {
				return nil
			}
			current = indexInto(arr, idx)
			if current == nil {
				return nil
			}
		}
	}

	return current
}

func indexInto(arr []any, idx int) any {
	if idx < 0 || idx >= len(arr) {
		return nil
	}
	return arr[idx]
}

// parseSegment splits "items[0][1]" into ("items", [0, 1]). A segment with
// malformed brackets is rejected.
func parseSegment(segment string) (name string, indices []int, ok bool) {
	open := strings.IndexByte(segment, '[')
	if open == -1 {
		return segment, nil, true
	}

	name = segment[:open]
	rest := segment[open:]
	for rest != "" {
		if rest[0] != '[' {
			return "", nil, false
		}
		close := strings.IndexByte(rest, ']')
		if close == -1 {
			return "", nil, false
		}
		idx, err := strconv.Atoi(rest[1:close])
		if err != nil {
			return "", nil, false
		}
		indices = append(indices, idx)
		rest = rest[close+1:]
	}
	return name, indices, true
}
