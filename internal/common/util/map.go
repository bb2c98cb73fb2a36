package util

import "sort"

func DeepCopy(a map[string]string) map[string]string {
	if a == nil {
		return nil
	}

	result := make(map[string]string)
	for k, v := range a {
		result[k] = v
	}
	return result
}

// SortedKeys returns the keys of m in ascending order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
