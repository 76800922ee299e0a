package arb

// ring is a fixed-capacity buffer of executed opportunities; once full, the
// oldest entry is evicted. Not safe for concurrent use; the Scanner's mutex
// guards it.
type ring struct {
	buf   []Opportunity
	start int
	size  int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = 1
	}
	return &ring{buf: make([]Opportunity, capacity)}
}

func (r *ring) push(opp Opportunity) {
	end := (r.start + r.size) % len(r.buf)
	r.buf[end] = opp
	if r.size < len(r.buf) {
		r.size++
	} else {
		r.start = (r.start + 1) % len(r.buf)
	}
}

// items returns a copy oldest-first.
func (r *ring) items() []Opportunity {
	out := make([]Opportunity, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
