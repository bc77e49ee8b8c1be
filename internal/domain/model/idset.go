package model

import "slices"

// IDSet is a set of entity ids (owner or repository ids). The zero value is
// an empty set ready for use.
type IDSet struct {
	ids map[int64]struct{}
}

// NewIDSet returns a set holding the given ids. Duplicates collapse.
func NewIDSet(ids ...int64) IDSet {
	s := IDSet{}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether the set changed.
func (s *IDSet) Add(id int64) bool {
	if s.ids == nil {
		s.ids = make(map[int64]struct{})
	}
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Remove deletes id and reports whether the set changed.
func (s *IDSet) Remove(id int64) bool {
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	return true
}

// Contains reports whether id is a member.
func (s IDSet) Contains(id int64) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of members.
func (s IDSet) Len() int {
	return len(s.ids)
}

// Slice returns the members in ascending order. Never nil.
func (s IDSet) Slice() []int64 {
	out := make([]int64, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
