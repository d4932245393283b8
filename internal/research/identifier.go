package research

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Normalizer maps an identifier to its canonical form. Two identifiers
// are considered the same when their normalized forms are equal.
type Normalizer func(string) string

var (
	ticketMissingHyphen = regexp.MustCompile(`^(VIT|VFIT|CR|INC)(\d+)$`)
	changelistForm      = regexp.MustCompile(`^(?:CL|CHANGELIST)[\s:#-]*(\d+)$`)
	whitespace          = regexp.MustCompile(`\s+`)
)

// NormalizeIdentifier is the default normalizer: uppercase, collapse
// whitespace, restore the hyphen in bare ticket keys ("VIT60872" ->
// "VIT-60872") and canonicalize changelist references to "CL-<digits>".
func NormalizeIdentifier(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = whitespace.ReplaceAllString(s, " ")
	if m := changelistForm.FindStringSubmatch(s); m != nil {
		return "CL-" + m[1]
	}
	if m := ticketMissingHyphen.FindStringSubmatch(s); m != nil {
		return m[1] + "-" + m[2]
	}
	return s
}

// IdentifierSet is an insertion-ordered set of cross-reference keys,
// deduplicated under an injected normalizer.
type IdentifierSet struct {
	normalize Normalizer
	keys      []string            // normalized, in insertion order
	index     map[string]struct{} // normalized -> present
}

// NewIdentifierSet creates an empty set. A nil normalizer falls back to
// NormalizeIdentifier.
func NewIdentifierSet(n Normalizer) *IdentifierSet {
	if n == nil {
		n = NormalizeIdentifier
	}
	return &IdentifierSet{
		normalize: n,
		index:     make(map[string]struct{}),
	}
}

// Normalize applies the set's normalizer.
func (s *IdentifierSet) Normalize(raw string) string {
	return s.normalize(raw)
}

// Add inserts the identifier, returning true if it was not already
// present under normalization.
func (s *IdentifierSet) Add(raw string) bool {
	key := s.normalize(raw)
	if key == "" {
		return false
	}
	if _, ok := s.index[key]; ok {
		return false
	}
	s.index[key] = struct{}{}
	s.keys = append(s.keys, key)
	return true
}

// Contains reports whether the identifier is present under normalization.
func (s *IdentifierSet) Contains(raw string) bool {
	_, ok := s.index[s.normalize(raw)]
	return ok
}

// Values returns the normalized identifiers in insertion order.
func (s *IdentifierSet) Values() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Len returns the number of identifiers in the set.
func (s *IdentifierSet) Len() int {
	return len(s.keys)
}

// Clone returns an independent copy sharing the same normalizer.
func (s *IdentifierSet) Clone() *IdentifierSet {
	c := NewIdentifierSet(s.normalize)
	for _, k := range s.keys {
		c.keys = append(c.keys, k)
		c.index[k] = struct{}{}
	}
	return c
}

// MarshalJSON encodes the set as an ordered array of identifiers.
func (s *IdentifierSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.keys)
}

// UnmarshalJSON restores the set from an ordered array. The normalizer
// reverts to the default; callers restoring checkpoints with a custom
// normalizer must re-normalize themselves.
func (s *IdentifierSet) UnmarshalJSON(data []byte) error {
	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return err
	}
	s.normalize = NormalizeIdentifier
	s.index = make(map[string]struct{}, len(keys))
	s.keys = s.keys[:0]
	for _, k := range keys {
		if _, ok := s.index[k]; ok {
			continue
		}
		s.index[k] = struct{}{}
		s.keys = append(s.keys, k)
	}
	return nil
}
