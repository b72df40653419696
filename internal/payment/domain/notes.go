package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Notes is the gateway's free-form key/value bag. The gateway encodes an
// empty bag as [] and may send numbers for values we wrote as strings.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("[]")) {
		*n = Notes{}
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	out := make(Notes, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			out[key] = v
		case nil:
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	*n = out
	return nil
}

func (n Notes) Get(key string) string {
	return strings.TrimSpace(n[key])
}
