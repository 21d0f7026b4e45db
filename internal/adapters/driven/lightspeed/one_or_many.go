package lightspeed

import (
	"bytes"
	"encoding/json"
)

// OneOrMany decodes a field the API renders as a bare object for a single
// result, an array for several, and omits when there are none.
type OneOrMany[T any] []T

// UnmarshalJSON implements json.Unmarshaler.
func (m *OneOrMany[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*m = nil
		return nil
	case data[0] == '[':
		var many []T
		if err := json.Unmarshal(data, &many); err != nil {
			return err
		}
		*m = many
		return nil
	default:
		var one T
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*m = OneOrMany[T]{one}
		return nil
	}
}
