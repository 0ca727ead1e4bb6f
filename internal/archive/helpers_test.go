package archive

import (
	"sort"
	"strconv"
	"strings"
)

func splitRel(rel string) []string { return strings.Split(rel, "/") }

func itoa(n int) string { return strconv.Itoa(n) }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
