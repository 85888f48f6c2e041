package normalize

import "encoding/json"

// ExtractBottomCursor scans all instructions in a single linear pass and
// returns the value of the last Bottom-typed cursor marker encountered,
// whether it appears inside an add-entries list or as a replacement entry.
// Replacement entries typically occur later in the payload and intentionally
// override the initial list's cursor.
func ExtractBottomCursor(payload json.RawMessage) (string, bool) {
	instructions, ok := findInstructions(payload)
	if !ok {
		return "", false
	}

	var cursor string
	var found bool
	for _, instruction := range instructions {
		for _, entry := range instructionEntries(instruction) {
			if value, isBottom := bottomCursorValue(entry); isBottom {
				cursor = value
				found = true
			}
		}
	}
	return cursor, found
}

// bottomCursorValue probes the cursor shapes an entry can take: the cursor
// fields directly on the entry content, or nested inside item content.
func bottomCursorValue(entry any) (string, bool) {
	candidates := [][]string{
		{"content", "cursorType"},
		{"content", "itemContent", "cursorType"},
		{"content", "item", "itemContent", "cursorType"},
	}
	for _, path := range candidates {
		cursorType, ok := lookupString(entry, path...)
		if !ok || cursorType != cursorTypeBottom {
			continue
		}
		valuePath := append(append([]string{}, path[:len(path)-1]...), "value")
		if value, valueFound := lookupString(entry, valuePath...); valueFound {
			return value, true
		}
	}
	return "", false
}
