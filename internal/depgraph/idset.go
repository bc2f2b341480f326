package depgraph

import "encoding/json"

// IDSet is a duplicate-free collection of module ids that remembers insertion
// order. Serialized output follows that order. The zero value is empty and
// ready to use.
type IDSet struct {
	ids   []ModuleID
	index map[ModuleID]struct{}
}

// NewIDSet returns a set holding ids in the given order, dropping repeats.
func NewIDSet(ids ...ModuleID) IDSet {
	var s IDSet
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id and reports whether it was not already present.
func (s *IDSet) Add(id ModuleID) bool {
	if s.index == nil {
		s.index = make(map[ModuleID]struct{})
	}
	if _, ok := s.index[id]; ok {
		return false
	}
	s.index[id] = struct{}{}
	s.ids = append(s.ids, id)
	return true
}

// Contains reports whether id is a member.
func (s IDSet) Contains(id ModuleID) bool {
	_, ok := s.index[id]
	return ok
}

// Len returns the number of members.
func (s IDSet) Len() int {
	return len(s.ids)
}

// IDs returns a copy of the members in insertion order.
func (s IDSet) IDs() []ModuleID {
	out := make([]ModuleID, len(s.ids))
	copy(out, s.ids)
	return out
}

// MarshalJSON encodes the set as an array in insertion order.
func (s IDSet) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

// UnmarshalJSON decodes an array, dropping duplicate entries.
func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []ModuleID
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewIDSet(ids...)
	return nil
}
