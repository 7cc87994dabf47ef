package updater

import (
	"encoding/json"
	"strconv"

	"dmsdk/internal/canonical"
)

const (
	sequenceField = "sequence"
	statusField   = "status"
	detailField   = "detail"
)

// State is one snapshot of the update lifecycle.
type State struct {
	Sequence  uint64         `json:"sequence"`
	Status    Status         `json:"status"`
	RawStatus string         `json:"raw_status"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Newer reports whether s is a change relative to lastSequence.
func (s *State) Newer(lastSequence uint64) bool {
	return s != nil && s.Sequence > lastSequence
}

// ParseState reads a state from the data object of an envelope. When the
// object has no "detail" member, every member other than sequence and
// status becomes the detail.
func ParseState(data map[string]any) (*State, bool) {
	if data == nil {
		return nil, false
	}
	seq, ok := parseSequence(data[sequenceField])
	if !ok {
		return nil, false
	}
	raw, ok := data[statusField].(string)
	if !ok || raw == "" {
		return nil, false
	}

	state := &State{Sequence: seq, Status: ParseStatus(raw), RawStatus: raw}
	if detail, present := data[detailField]; present {
		switch d := detail.(type) {
		case map[string]any:
			state.Detail = d
		case nil:
		default:
			return nil, false
		}
		return state, true
	}

	for k, v := range data {
		if k == sequenceField || k == statusField {
			continue
		}
		if state.Detail == nil {
			state.Detail = make(map[string]any)
		}
		state.Detail[k] = v
	}
	return state, true
}

func parseSequence(v any) (uint64, bool) {
	switch n := v.(type) {
	case json.Number:
		seq, err := strconv.ParseUint(n.String(), 10, 64)
		return seq, err == nil
	case float64:
		if n < 0 || n != float64(uint64(n)) {
			return 0, false
		}
		return uint64(n), true
	}
	return 0, false
}

// unwrapData returns the "data" object of a raw envelope.
func unwrapData(raw json.RawMessage) (map[string]any, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	v, err := canonical.Parse(raw)
	if err != nil {
		return nil, false
	}
	envelope, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	data, ok := envelope["data"].(map[string]any)
	return data, ok
}
