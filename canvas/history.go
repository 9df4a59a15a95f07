package canvas

// HistoryDepth is the number of snapshots kept for undo.
const HistoryDepth = 20

// history is a fixed-capacity ring of pixel snapshots plus a redo stack.
// The oldest snapshot is evicted when the ring is full.
type history struct {
	ring  [][]byte
	start int
	n     int
	redo  [][]byte
}

func newHistory(depth int) *history {
	return &history{ring: make([][]byte, depth)}
}

// push records a new action and drops any redo branch.
func (h *history) push(snap []byte) {
	h.append(snap)
	h.redo = nil
}

func (h *history) append(snap []byte) {
	if h.n == len(h.ring) {
		h.ring[h.start] = nil
		h.start = (h.start + 1) % len(h.ring)
		h.n--
	}
	h.ring[(h.start+h.n)%len(h.ring)] = snap
	h.n++
}

func (h *history) top() []byte {
	if h.n == 0 {
		return nil
	}
	return h.ring[(h.start+h.n-1)%len(h.ring)]
}

// undo moves the top snapshot to the redo stack and returns the new top.
// The bottom entry is never popped.
func (h *history) undo() ([]byte, bool) {
	if h.n <= 1 {
		return nil, false
	}
	idx := (h.start + h.n - 1) % len(h.ring)
	h.redo = append(h.redo, h.ring[idx])
	h.ring[idx] = nil
	h.n--
	return h.top(), true
}

func (h *history) redoStep() ([]byte, bool) {
	if len(h.redo) == 0 {
		return nil, false
	}
	snap := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.append(snap)
	return snap, true
}

func (h *history) len() int { return h.n }

func (h *history) canUndo() bool { return h.n > 1 }

func (h *history) canRedo() bool { return len(h.redo) > 0 }
