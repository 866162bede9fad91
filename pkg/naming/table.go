package naming

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"
)

// Variable describes a single canonical variable we are able to extract from a
// glider's raw telemetry: its canonical name, the raw channel names that may
// carry it in priority order, and whether a deployment can be processed at all
// without it.
type Variable struct {
	Name      string   `yaml:"name"`
	Aliases   []string `yaml:"aliases"`
	Mandatory bool     `yaml:"mandatory,omitempty"`
}

// Table holds the full set of canonical variables we know how to resolve. The
// zero value is not usable; construct via DefaultTable, LoadTable or NewTable.
type Table struct {
	variables []Variable
	byName    map[string]int
}

// NewTable builds a Table from the given variables, validating that canonical
// names are unique and that every variable carries at least one alias.
func NewTable(variables []Variable) (*Table, error) {
	t := &Table{
		variables: make([]Variable, 0, len(variables)),
		byName:    make(map[string]int, len(variables)),
	}

	for _, v := range variables {
		if v.Name == "" {
			return nil, errors.New("variable with empty canonical name")
		}

		if len(v.Aliases) == 0 {
			return nil, errors.Errorf("variable '%s' has no aliases", v.Name)
		}

		if _, ok := t.byName[v.Name]; ok {
			return nil, errors.Errorf("variable '%s' defined twice", v.Name)
		}

		seen := map[string]bool{}
		for _, alias := range v.Aliases {
			if alias == "" {
				return nil, errors.Errorf("variable '%s' has an empty alias", v.Name)
			}
			if seen[alias] {
				return nil, errors.Errorf("variable '%s' repeats alias '%s'", v.Name, alias)
			}
			seen[alias] = true
		}

		t.byName[v.Name] = len(t.variables)
		t.variables = append(t.variables, v)
	}

	return t, nil
}

// tableFile is the on disk representation of an alias table, used when an
// operator supplies their own table for a non standard sensor payload.
type tableFile struct {
	Variables []Variable `yaml:"variables"`
}

// LoadTable reads an alias table from a YAML file. Unknown keys are rejected
// so that a typo in an operator supplied table fails loudly rather than being
// silently ignored.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open alias table")
	}
	defer f.Close()

	var file tableFile

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	if err = decoder.Decode(&file); err != nil {
		return nil, errors.Wrapf(err, "failed to parse alias table: %s", path)
	}

	return NewTable(file.Variables)
}

// Names returns the canonical names in the table sorted alphabetically.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.variables))
	for _, v := range t.variables {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names
}

// Get returns the variable with the given canonical name, or false if the
// table does not define it.
func (t *Table) Get(name string) (Variable, bool) {
	i, ok := t.byName[name]
	if !ok {
		return Variable{}, false
	}
	return t.variables[i], true
}

// Override returns a copy of the table in which the named variable's alias
// list has source prepended as the new highest priority alias. Deployment
// documents use this to pin a variable to a specific raw channel while still
// falling back to the stock aliases.
func (t *Table) Override(name, source string) (*Table, error) {
	i, ok := t.byName[name]
	if !ok {
		return nil, errors.Errorf("cannot override unknown variable '%s'", name)
	}

	variables := make([]Variable, len(t.variables))
	copy(variables, t.variables)

	v := variables[i]
	aliases := make([]string, 0, len(v.Aliases)+1)
	aliases = append(aliases, source)
	for _, alias := range v.Aliases {
		if alias != source {
			aliases = append(aliases, alias)
		}
	}
	v.Aliases = aliases
	variables[i] = v

	return NewTable(variables)
}
