package audit

// Retention decides which committed entries stay in memory.
type Retention interface {
	// Add stores e and reports how many older entries were dropped.
	Add(e Entry) int
	// Entries returns retained entries, oldest first.
	Entries() []Entry
	Len() int
}

// KeepAll retains every entry.
type KeepAll struct {
	entries []Entry
}

func (k *KeepAll) Add(e Entry) int {
	k.entries = append(k.entries, e)
	return 0
}

func (k *KeepAll) Entries() []Entry {
	out := make([]Entry, len(k.entries))
	copy(out, k.entries)
	return out
}

func (k *KeepAll) Len() int { return len(k.entries) }

// Ring keeps the most recent capacity entries.
type Ring struct {
	buf   []Entry
	start int
	size  int
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]Entry, capacity)}
}

func (r *Ring) Add(e Entry) int {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = e
		r.size++
		return 0
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
	return 1
}

func (r *Ring) Entries() []Entry {
	out := make([]Entry, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}

func (r *Ring) Len() int { return r.size }

// RetentionFor returns a Ring for a positive capacity and KeepAll otherwise.
func RetentionFor(capacity int) Retention {
	if capacity > 0 {
		return NewRing(capacity)
	}
	return &KeepAll{}
}
