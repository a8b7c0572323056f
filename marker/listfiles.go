package marker

import (
	"encoding/json"
	"strings"
)

// ExtractFileLists finds every top-level JSON string-array literal in buf,
// tolerating interleaved log lines, and returns the flattened paths with
// duplicates removed in first-seen order. found is false when no array was
// recognized.
func ExtractFileLists(buf string) (files []string, found bool) {
	seen := make(map[string]struct{})
	files = []string{}

	for i := 0; i < len(buf); {
		start := strings.IndexByte(buf[i:], '[')
		if start < 0 {
			break
		}
		start += i

		dec := json.NewDecoder(strings.NewReader(buf[start:]))
		var v any
		if err := dec.Decode(&v); err != nil {
			i = start + 1
			continue
		}
		paths, ok := stringArray(v)
		if !ok {
			i = start + 1
			continue
		}

		found = true
		for _, p := range paths {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			files = append(files, p)
		}
		i = start + int(dec.InputOffset())
	}
	return files, found
}

func stringArray(v any) ([]string, bool) {
	arr, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
