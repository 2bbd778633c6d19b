package store

import "strconv"

// parseCursor and formatCursor encode a stream-range offset as an opaque
// string cursor, shared by MemStore and SQLStore (Redis uses its own
// native stream IDs instead).
func parseCursor(cursor string) (int, error) {
	return strconv.Atoi(cursor)
}

func formatCursor(offset int) string {
	return strconv.Itoa(offset)
}
