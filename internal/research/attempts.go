package research

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AttemptMap records the outcome of fetch attempts keyed by
// (source, identifier). JSON encodes keys as "source/identifier" so the
// map survives checkpointing.
type AttemptMap map[AttemptKey]Outcome

// Clone returns an independent copy.
func (m AttemptMap) Clone() AttemptMap {
	out := make(AttemptMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MarshalJSON encodes the map with flattened string keys.
func (m AttemptMap) MarshalJSON() ([]byte, error) {
	flat := make(map[string]Outcome, len(m))
	for k, v := range m {
		flat[k.Source+"/"+k.Identifier] = v
	}
	return json.Marshal(flat)
}

// UnmarshalJSON restores the map from flattened string keys.
func (m *AttemptMap) UnmarshalJSON(data []byte) error {
	var flat map[string]Outcome
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	out := make(AttemptMap, len(flat))
	for k, v := range flat {
		src, id, ok := strings.Cut(k, "/")
		if !ok {
			return fmt.Errorf("malformed attempt key %q", k)
		}
		out[AttemptKey{Source: src, Identifier: id}] = v
	}
	*m = out
	return nil
}
