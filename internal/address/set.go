package address

// Set is an insertion-ordered set of normalized addresses. The zero value
// and a nil *Set are both empty and usable for lookups.
type Set struct {
	order []string
	index map[string]struct{}
}

// NewSet returns a set holding the normalized, non-empty values.
func NewSet(values ...string) *Set {
	s := &Set{}
	for _, v := range values {
		s.Add(v)
	}
	return s
}

// Add normalizes v and inserts it. It reports whether v was new.
func (s *Set) Add(v string) bool {
	v = Normalize(v)
	if v == "" {
		return false
	}
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.order = append(s.order, v)
	return true
}

// Has reports whether the normalized form of v is in the set.
func (s *Set) Has(v string) bool {
	if s == nil || s.index == nil {
		return false
	}
	_, ok := s.index[Normalize(v)]
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.order)
}

// Values returns the members in insertion order.
func (s *Set) Values() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// First returns the earliest inserted member, or "".
func (s *Set) First() string {
	if s.Len() == 0 {
		return ""
	}
	return s.order[0]
}
