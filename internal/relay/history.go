package relay

// HistorySize is the length of the loop-suppression window.
const HistorySize = 3

// History is the fixed window of recently relayed sender DIDs, newest first.
// Zero marks an empty entry; a DID is never zero.
type History [HistorySize]uint32

// Contains reports whether did is inside the window.
func (h History) Contains(did uint32) bool {
	if did == 0 {
		return false
	}
	for _, v := range h {
		if v == did {
			return true
		}
	}
	return false
}

// Push records did as newest, evicting the oldest entry. Duplicates are no-ops.
func (h *History) Push(did uint32) {
	if did == 0 || h.Contains(did) {
		return
	}
	copy(h[1:], h[:HistorySize-1])
	h[0] = did
}

// Len returns the number of occupied entries.
func (h History) Len() int {
	n := 0
	for _, v := range h {
		if v != 0 {
			n++
		}
	}
	return n
}

// Clear empties the window.
func (h *History) Clear() { *h = History{} }
