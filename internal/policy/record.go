package policy

import (
	"encoding/json"
	"time"

	"github.com/mohammad-safakhou/catengine/models"
)

// LegacyRecord is the bare policy object older writers stored.
type LegacyRecord models.SelectionPolicy

// MetaRecord wraps the policy with the time it was written.
type MetaRecord struct {
	Policy      models.SelectionPolicy `json:"policy"`
	LastUpdated string                 `json:"last_updated,omitempty"`
}

// decodeRecord recognizes both stored shapes. Anything else is reported as not ok.
func decodeRecord(data []byte) (models.SelectionPolicy, *time.Time, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return models.SelectionPolicy{}, nil, false
	}
	_, hasBalanced := fields["prefer_balanced"]
	_, hasDeterministic := fields["deterministic"]
	if hasBalanced && hasDeterministic {
		rec := LegacyRecord(defaultFields())
		if err := json.Unmarshal(data, &rec); err != nil {
			return models.SelectionPolicy{}, nil, false
		}
		return models.SelectionPolicy(rec).Normalize(), nil, true
	}
	if _, ok := fields["policy"]; !ok {
		return models.SelectionPolicy{}, nil, false
	}
	rec := MetaRecord{Policy: defaultFields()}
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.SelectionPolicy{}, nil, false
	}
	var last *time.Time
	if t, err := time.Parse(time.RFC3339Nano, rec.LastUpdated); err == nil {
		last = &t
	}
	return rec.Policy.Normalize(), last, true
}

func encodeRecord(p models.SelectionPolicy, at time.Time) ([]byte, error) {
	return json.Marshal(MetaRecord{Policy: p, LastUpdated: at.UTC().Format(time.RFC3339Nano)})
}

// defaultFields mirrors the zero-config policy so absent keys keep their defaults.
func defaultFields() models.SelectionPolicy {
	return models.SelectionPolicy{PreferBalanced: true, InfoBandFraction: models.DefaultInfoBandFraction}
}
