package render

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var placeholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// UnresolvedError lists the placeholders a legacy template referenced but the
// variable set did not define.
type UnresolvedError struct {
	Names []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("unresolved placeholders: %s", strings.Join(e.Names, ", "))
}

// Substitute replaces every ${NAME} in src with vars[NAME]. Unknown names fail
// the whole substitution; no partial output is returned.
func Substitute(src string, vars map[string]string) (string, error) {
	missing := make(map[string]bool)
	out := placeholder.ReplaceAllStringFunc(src, func(m string) string {
		name := m[2 : len(m)-1]
		v, ok := vars[name]
		if !ok {
			missing[name] = true
			return m
		}
		return v
	})

	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", &UnresolvedError{Names: names}
	}
	return out, nil
}

// Placeholders returns the distinct names referenced by src, sorted.
func Placeholders(src string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range placeholder.FindAllStringSubmatch(src, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	sort.Strings(names)
	return names
}
