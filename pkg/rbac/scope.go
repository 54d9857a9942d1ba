package rbac

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// ScopeList is a tri-state allow-list. The zero value is unrestricted.
//
//	Unrestricted()   JSON null, SQL NULL   every id is in scope
//	NoAccess()       JSON [],   SQL '{}'   no id is in scope
//	AllowOnly(a, b)  JSON [a,b]            only the listed ids
type ScopeList struct {
	restricted bool
	ids        []string
}

// Unrestricted returns a list that admits every id.
func Unrestricted() ScopeList {
	return ScopeList{}
}

// NoAccess returns a list that admits nothing.
func NoAccess() ScopeList {
	return ScopeList{restricted: true, ids: []string{}}
}

// AllowOnly returns a list admitting exactly the given ids. Calling it with
// no ids is the same as NoAccess.
func AllowOnly(ids ...string) ScopeList {
	out := make([]string, len(ids))
	copy(out, ids)
	return ScopeList{restricted: true, ids: out}
}

// ScopeFromSlice maps a nil slice to Unrestricted and any non-nil slice,
// including an empty one, to an allow-list.
func ScopeFromSlice(ids []string) ScopeList {
	if ids == nil {
		return Unrestricted()
	}
	return AllowOnly(ids...)
}

// IsUnrestricted reports whether the list admits every id.
func (s ScopeList) IsUnrestricted() bool {
	return !s.restricted
}

// IsEmpty reports whether the list admits nothing.
func (s ScopeList) IsEmpty() bool {
	return s.restricted && len(s.ids) == 0
}

// IDs returns a copy of the allow-list. It returns nil for an unrestricted
// list and a non-nil empty slice for NoAccess.
func (s ScopeList) IDs() []string {
	if !s.restricted {
		return nil
	}
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Contains reports whether id is in scope.
func (s ScopeList) Contains(id string) bool {
	if !s.restricted {
		return true
	}
	for _, v := range s.ids {
		if v == id {
			return true
		}
	}
	return false
}

// IsSubsetOf reports whether every id admitted by s is admitted by other.
func (s ScopeList) IsSubsetOf(other ScopeList) bool {
	if other.IsUnrestricted() {
		return true
	}
	if s.IsUnrestricted() {
		return false
	}
	for _, id := range s.ids {
		if !other.Contains(id) {
			return false
		}
	}
	return true
}

// Equal reports whether both lists admit the same ids in the same state.
func (s ScopeList) Equal(other ScopeList) bool {
	if s.restricted != other.restricted || len(s.ids) != len(other.ids) {
		return false
	}
	for i := range s.ids {
		if s.ids[i] != other.ids[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes Unrestricted as null and everything else as an array.
func (s ScopeList) MarshalJSON() ([]byte, error) {
	if !s.restricted {
		return []byte("null"), nil
	}
	ids := s.ids
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

// UnmarshalJSON decodes null as Unrestricted and [] as NoAccess.
func (s *ScopeList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Unrestricted()
		return nil
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return fmt.Errorf("scope list must be null or an array of strings: %w", err)
	}
	*s = AllowOnly(ids...)
	return nil
}

// Value implements driver.Valuer. Unrestricted is stored as NULL.
func (s ScopeList) Value() (driver.Value, error) {
	if !s.restricted {
		return nil, nil
	}
	ids := s.ids
	if ids == nil {
		ids = []string{}
	}
	return pq.StringArray(ids).Value()
}

// Scan implements sql.Scanner. NULL becomes Unrestricted and '{}' NoAccess.
func (s *ScopeList) Scan(src interface{}) error {
	if src == nil {
		*s = Unrestricted()
		return nil
	}
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return fmt.Errorf("failed to scan scope list: %w", err)
	}
	*s = AllowOnly([]string(arr)...)
	return nil
}

// IsInScope reports whether candidateID falls inside the principal's
// allow-list for the dimension. Nil principals and unknown dimensions are
// never in scope.
func IsInScope(p *Principal, d Dimension, candidateID string) bool {
	if p == nil {
		return false
	}
	list, ok := p.Scope(d)
	if !ok {
		return false
	}
	return list.Contains(candidateID)
}
