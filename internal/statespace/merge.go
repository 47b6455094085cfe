package statespace

import (
	"encoding/json"
	"sort"
)

// UnionMerge treats values as JSON arrays of strings and stores their sorted
// union. A value that is not a JSON array counts as a single element.
// Suitable for keys that accumulate discovered facts.
func UnionMerge(current, incoming string) (string, error) {
	set := make(map[string]bool)
	for _, v := range []string{current, incoming} {
		for _, item := range decodeSet(v) {
			set[item] = true
		}
	}

	items := make([]string, 0, len(set))
	for item := range set {
		items = append(items, item)
	}
	sort.Strings(items)

	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncodeSet renders items in the format UnionMerge understands.
func EncodeSet(items ...string) string {
	data, _ := json.Marshal(items)
	merged, _ := UnionMerge("", string(data))
	return merged
}

// DecodeSet parses a value written with EncodeSet or UnionMerge.
func DecodeSet(value string) []string {
	items := decodeSet(value)
	sort.Strings(items)
	return items
}

func decodeSet(value string) []string {
	if value == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(value), &items); err != nil {
		return []string{value}
	}
	return items
}
