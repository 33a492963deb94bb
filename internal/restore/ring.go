package restore

// Ring is a fixed-budget byte ring holding the most recent terminal output.
// A zero-budget ring stores nothing. Not safe for concurrent use; the
// owning spool serializes access.
type Ring struct {
	data   []byte
	budget int
	start  int
	size   int
}

// NewRing creates a ring that retains at most budget bytes.
func NewRing(budget int) *Ring {
	if budget < 0 {
		budget = 0
	}
	return &Ring{
		data:   make([]byte, budget),
		budget: budget,
	}
}

// Write appends bytes, discarding the oldest once the budget is exceeded.
// It never blocks and never fails; memory use is bounded by construction.
func (r *Ring) Write(data []byte) {
	if r.budget == 0 || len(data) == 0 {
		return
	}
	if len(data) >= r.budget {
		copy(r.data, data[len(data)-r.budget:])
		r.start = 0
		r.size = r.budget
		return
	}

	writePos := (r.start + r.size) % r.budget
	for offset := 0; offset < len(data); {
		chunk := len(data) - offset
		if chunk > r.budget-writePos {
			chunk = r.budget - writePos
		}
		copy(r.data[writePos:writePos+chunk], data[offset:offset+chunk])
		writePos = (writePos + chunk) % r.budget
		offset += chunk
	}

	r.size += len(data)
	if r.size > r.budget {
		r.start = (r.start + r.size - r.budget) % r.budget
		r.size = r.budget
	}
}

// Len returns the number of retained bytes.
func (r *Ring) Len() int {
	return r.size
}

// Bytes returns the retained output, oldest first.
func (r *Ring) Bytes() []byte {
	out := make([]byte, r.size)
	head := r.budget - r.start
	if head > r.size {
		head = r.size
	}
	copy(out, r.data[r.start:r.start+head])
	copy(out[head:], r.data[:r.size-head])
	return out
}

// SetBudget changes the budget for future writes. Retained bytes in excess
// of a smaller budget are discarded oldest-first; growing the budget does
// not resurrect already-discarded history.
func (r *Ring) SetBudget(budget int) {
	if budget < 0 {
		budget = 0
	}
	if budget == r.budget {
		return
	}
	kept := r.Bytes()
	if len(kept) > budget {
		kept = kept[len(kept)-budget:]
	}
	r.data = make([]byte, budget)
	copy(r.data, kept)
	r.budget = budget
	r.start = 0
	r.size = len(kept)
}
