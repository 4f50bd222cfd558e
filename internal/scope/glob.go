package scope

import (
	"regexp"
	"strings"
	"sync"
)

// Glob semantics, in match order:
//
//	**/  matches zero or more whole path segments
//	**   matches any run of characters, including /
//	*    matches any run of characters except /
//	?    matches exactly one character except /
//
// Everything else is literal; regex metacharacters are escaped before
// substitution. The deny-before-allow evaluation order lives in policy.go —
// this file is only pattern compilation.

var (
	globCacheMu sync.Mutex
	globCache   = map[string]*regexp.Regexp{}
)

// matchGlob reports whether path matches pattern. Compiled patterns are
// cached; an uncompilable pattern matches nothing.
func matchGlob(pattern, path string) bool {
	re := compiledGlob(pattern)
	if re == nil {
		return false
	}
	return re.MatchString(path)
}

func compiledGlob(pattern string) *regexp.Regexp {
	globCacheMu.Lock()
	defer globCacheMu.Unlock()
	if re, ok := globCache[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(globToRegexp(pattern))
	if err != nil {
		re = nil
	}
	globCache[pattern] = re
	return re
}

// globToRegexp translates a glob pattern into an anchored regular expression.
func globToRegexp(pattern string) string {
	var b strings.Builder
	b.WriteString("^")

	for i := 0; i < len(pattern); {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			// Zero or more whole segments.
			b.WriteString(`(?:[^/]+/)*`)
			i += 3
		case strings.HasPrefix(pattern[i:], "**"):
			b.WriteString(`.*`)
			i += 2
		case pattern[i] == '*':
			b.WriteString(`[^/]*`)
			i++
		case pattern[i] == '?':
			b.WriteString(`[^/]`)
			i++
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}

	b.WriteString("$")
	return b.String()
}

// normalizePath cleans separators for glob comparison: backslashes become
// slashes and a leading "./" is dropped. No filesystem resolution happens
// here.
func normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.TrimPrefix(path, "./")
	return path
}
