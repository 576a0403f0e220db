package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// ItemID identifies an item. Upstream item banks use either integer or string
// ids; both are held in their string form so comparisons are normalized.
type ItemID string

// String returns the normalized id.
func (id ItemID) String() string { return string(id) }

// IntItemID builds an id from an integer key.
func IntItemID(n int64) ItemID { return ItemID(strconv.FormatInt(n, 10)) }

// IsNumeric reports whether the id is a canonical integer.
func (id ItemID) IsNumeric() bool {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return err == nil && strconv.FormatInt(n, 10) == string(id)
}

// MarshalJSON writes canonical integer ids as numbers and everything else as strings.
func (id ItemID) MarshalJSON() ([]byte, error) {
	if id.IsNumeric() {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts either a JSON string or a JSON number.
func (id *ItemID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ItemID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("item id: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*id = IntItemID(i)
		return nil
	}
	*id = ItemID(n.String())
	return nil
}
