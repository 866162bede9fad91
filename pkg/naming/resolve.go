package naming

import (
	"fmt"
	"sort"
	"strings"
)

// Binding records the outcome of resolving one canonical variable: the raw
// channel that will feed it, and the position of that channel in the
// variable's alias list (0 being the preferred alias).
type Binding struct {
	Variable string
	Source   string
	Priority int
}

// Resolution is the result of resolving a table against the raw channels
// present in a deployment's telemetry. Bindings are sorted by canonical
// variable name and Absent lists the optional variables for which no alias was
// present, so two resolutions of the same inputs are byte for byte identical.
type Resolution struct {
	Bindings []Binding
	Absent   []string
}

// Source returns the raw channel bound to the named canonical variable, or
// false if the variable was not resolved.
func (r *Resolution) Source(variable string) (string, bool) {
	for _, b := range r.Bindings {
		if b.Variable == variable {
			return b.Source, true
		}
	}
	return "", false
}

// MissingVariableError is returned when one or more mandatory variables have
// no alias present in the telemetry. It carries every missing variable, not
// just the first, so an operator can fix the whole table in one pass.
type MissingVariableError struct {
	Missing []string
}

// Error implements the error interface.
func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("no raw channel found for mandatory variables: %s", strings.Join(e.Missing, ", "))
}

// DuplicateSourceError is returned when two canonical variables resolve onto
// the same raw channel. A raw channel may feed at most one variable; anything
// else means the alias table (or an operator override) is inconsistent.
type DuplicateSourceError struct {
	Source    string
	Variables []string
}

// Error implements the error interface.
func (e *DuplicateSourceError) Error() string {
	return fmt.Sprintf("raw channel '%s' claimed by variables: %s", e.Source, strings.Join(e.Variables, ", "))
}

// Resolve binds every variable in the table against the set of raw channels
// actually present in the decoded telemetry. For each variable the highest
// priority alias that is present wins. Optional variables with no present
// alias are reported in Resolution.Absent; mandatory ones cause a
// MissingVariableError naming all of them.
func (t *Table) Resolve(present []string) (*Resolution, error) {
	channels := make(map[string]bool, len(present))
	for _, name := range present {
		channels[name] = true
	}

	resolution := &Resolution{}
	missing := []string{}
	claimed := map[string]string{}

	for _, v := range t.variables {
		bound := false

		for i, alias := range v.Aliases {
			if !channels[alias] {
				continue
			}

			if prev, ok := claimed[alias]; ok {
				variables := []string{prev, v.Name}
				sort.Strings(variables)
				return nil, &DuplicateSourceError{Source: alias, Variables: variables}
			}
			claimed[alias] = v.Name

			resolution.Bindings = append(resolution.Bindings, Binding{
				Variable: v.Name,
				Source:   alias,
				Priority: i,
			})
			bound = true
			break
		}

		if !bound {
			if v.Mandatory {
				missing = append(missing, v.Name)
			} else {
				resolution.Absent = append(resolution.Absent, v.Name)
			}
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &MissingVariableError{Missing: missing}
	}

	sort.Slice(resolution.Bindings, func(i, j int) bool {
		return resolution.Bindings[i].Variable < resolution.Bindings[j].Variable
	})
	sort.Strings(resolution.Absent)

	return resolution, nil
}
