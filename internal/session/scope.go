package session

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// maxScopeKey matches the owner_scope column width.
const maxScopeKey = 255

// Scope identifies who a conversation belongs to: the user plus the board
// and filter context they were looking at. It is always passed explicitly.
type Scope struct {
	UserID  string
	Board   string
	Filters map[string]string
}

// Key returns the canonical string stored in owner_scope. Filter keys are
// sorted so equal scopes always produce equal keys.
func (s Scope) Key() string {
	var b strings.Builder
	b.WriteString("user=")
	b.WriteString(s.UserID)
	b.WriteString("|board=")
	b.WriteString(s.Board)
	if len(s.Filters) > 0 {
		keys := make([]string, 0, len(s.Filters))
		for k := range s.Filters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("|")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(k)
			b.WriteString("=")
			b.WriteString(s.Filters[k])
		}
	}
	key := b.String()
	if len(key) > maxScopeKey {
		n := maxScopeKey
		for n > 0 && !utf8.RuneStart(key[n]) {
			n--
		}
		key = key[:n]
	}
	return key
}
