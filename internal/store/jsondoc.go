package store

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// The helpers below serve backends that keep records as JSON blobs and have no query engine:
// ordering and limiting happen here, after the whole collection has been read.

const idField = "id"

// EncodeRecord marshals record with its id field set to id.
func EncodeRecord(record any, id string) ([]byte, error) {
	doc, err := toDoc(record)
	if err != nil {
		return nil, err
	}
	doc[idField] = id
	return json.Marshal(doc)
}

// MergeFields applies fields on top of the stored JSON record raw.
func MergeFields(raw []byte, fields Fields) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling stored record")
	}
	for k, v := range fields {
		if k == idField {
			continue
		}
		doc[k] = v
	}
	return json.Marshal(doc)
}

func DecodeRecords[T any](raws [][]byte) ([]T, error) {
	records := make([]T, 0, len(raws))
	for _, raw := range raws {
		var r T
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, errors.Wrapf(err, "error unmarshalling record: %s", raw)
		}
		records = append(records, r)
	}
	return records, nil
}

// OrderRaw flattens a collection of id -> JSON record into a list ordered and limited by q.
// Records without the order field sort first; ties are broken by id.
func OrderRaw(records map[string][]byte, q Query) ([][]byte, error) {
	type entry struct {
		id  string
		key any
		raw []byte
	}
	entries := make([]entry, 0, len(records))
	for id, raw := range records {
		e := entry{id: id, raw: raw}
		if q.OrderBy != "" {
			var doc map[string]any
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, errors.Wrapf(err, "error unmarshalling record with id: %s", id)
			}
			e.key = doc[q.OrderBy]
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		c := compareValues(entries[i].key, entries[j].key)
		if c == 0 {
			c = strings.Compare(entries[i].id, entries[j].id)
		}
		if q.Descending {
			return c > 0
		}
		return c < 0
	})
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}
	ordered := make([][]byte, len(entries))
	for i, e := range entries {
		ordered[i] = e.raw
	}
	return ordered, nil
}

func toDoc(record any) (map[string]any, error) {
	b, err := json.Marshal(record)
	if err != nil {
		return nil, errors.Wrapf(err, "error marshalling record: %+v", record)
	}
	var doc map[string]any
	if err = json.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrapf(err, "record is not a JSON object: %s", b)
	}
	return doc, nil
}

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

// compareValues orders decoded JSON values; strings that are both RFC 3339 times compare as times.
func compareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return ra - rb
	}
	switch av := a.(type) {
	case bool:
		bv := b.(bool)
		switch {
		case av == bv:
			return 0
		case !av:
			return -1
		default:
			return 1
		}
	case float64:
		bv := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case string:
		bv := b.(string)
		at, aErr := time.Parse(time.RFC3339Nano, av)
		bt, bErr := time.Parse(time.RFC3339Nano, bv)
		if aErr == nil && bErr == nil {
			return at.Compare(bt)
		}
		return strings.Compare(av, bv)
	}
	return 0
}
