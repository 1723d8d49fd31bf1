package environment

import (
	"fmt"
	"strings"

	"github.com/openfroyo/daqconf/pkg/dal"
)

// MaxSubstitutions bounds the number of references expanded in one value.
const MaxSubstitutions = 128

// Reference delimiters.
const (
	// BraceBegin and BraceEnd delimit ${VAR} references resolved against the
	// partition variables.
	BraceBegin = "${"
	BraceEnd   = "}"

	// ParenBegin and ParenEnd delimit $(VAR) references resolved against the
	// process environment.
	ParenBegin = "$("
	ParenEnd   = ")"

	// EnvBegin and EnvEnd delimit env(VAR) references in command line
	// arguments, resolved against the application environment.
	EnvBegin = "env("
	EnvEnd   = ")"
)

// Lookup returns the value of a variable and whether it is defined.
// os.LookupEnv is a Lookup.
type Lookup func(name string) (string, bool)

// MapLookup returns a Lookup reading m.
func MapLookup(m map[string]string) Lookup {
	return func(name string) (string, bool) {
		v, ok := m[name]
		return v, ok
	}
}

// Substitute replaces every begin NAME end reference in s found by lookup.
// Unknown references are left as they are.
func Substitute(s string, lookup Lookup, begin, end string) (string, error) {
	return substitute(s, lookup, begin, end, false)
}

// SubstituteStrict is Substitute failing on the first unknown reference.
func SubstituteStrict(s string, lookup Lookup, begin, end string) (string, error) {
	return substitute(s, lookup, begin, end, true)
}

func substitute(from string, lookup Lookup, begin, end string, strict bool) (string, error) {
	s := from
	pos, count := 0, 0
	for pos <= len(s) {
		i := strings.Index(s[pos:], begin)
		if i < 0 {
			break
		}
		start := pos + i
		j := strings.Index(s[start+len(begin):], end)
		if j < 0 {
			break
		}
		stop := start + len(begin) + j

		count++
		if count >= MaxSubstitutions {
			return "", dal.NewBadConfigurationError(fmt.Sprintf(
				"value '%s' has exceeded the maximum number of substitutions allowed (%d); it might have a circular dependency with substitution variables; after %d substitutions it is '%s'",
				from, MaxSubstitutions, MaxSubstitutions, s), nil).
				WithCode(dal.ErrCodeSubstitutionLimit)
		}

		name := s[start+len(begin) : stop]
		if v, ok := lookup(name); ok {
			s = s[:start] + v + s[stop+len(end):]
		} else if strict {
			return "", dal.NewEnvironmentError(fmt.Sprintf("substitution failed for parameter '%s'", s[start:stop+len(end)]), nil).
				WithCode(dal.ErrCodeSubstitutionFailed)
		}
		pos = start + 1
	}
	return s, nil
}
