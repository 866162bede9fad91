package deployment

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"

	"github.com/adeverne/kiwiglider/pkg/naming"
)

// Config is the deployment document: everything the pipeline needs to know
// about one deployment beyond the raw files themselves. It is built once from
// the registry, reviewed by a human, and then read by every processing run,
// so it is YAML on disk and deterministic byte for byte.
type Config struct {
	Metadata         Attrs `yaml:"metadata"`
	GliderDevices    Attrs `yaml:"glider_devices"`
	NetCDFVariables  Attrs `yaml:"netcdf_variables"`
	ProfileVariables Attrs `yaml:"profile_variables"`
	QartodTests      Attrs `yaml:"qartod_tests"`
}

// Load reads and parses a deployment document. Unknown top level keys are
// rejected; a hand edited document with a typo should fail here, not misbehave
// three stages later.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open deployment document")
	}
	defer f.Close()

	var config Config

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	if err = decoder.Decode(&config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse deployment document: %s", path)
	}

	if err = config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid deployment document: %s", path)
	}

	return &config, nil
}

// Validate checks the structural invariants the rest of the pipeline assumes.
func (c *Config) Validate() error {
	if len(c.Metadata) == 0 {
		return errors.New("document has no metadata block")
	}

	if c.Metadata.String("deployment_name") == "" {
		return errors.New("metadata is missing deployment_name")
	}

	if len(c.NetCDFVariables) == 0 {
		return errors.New("document has no netcdf_variables block")
	}

	for _, attr := range c.NetCDFVariables {
		variable, ok := attr.Value.(Attrs)
		if !ok {
			return errors.Errorf("netcdf variable '%s' is not a mapping", attr.Key)
		}

		if attr.Key == naming.Time {
			continue
		}

		if variable.String("source") == "" {
			return errors.Errorf("netcdf variable '%s' has no source binding", attr.Key)
		}
	}

	return nil
}

// Name returns the deployment name the document was built for.
func (c *Config) Name() string {
	return c.Metadata.String("deployment_name")
}

// Variable returns the attribute block for one canonical variable.
func (c *Config) Variable(name string) (Attrs, bool) {
	return c.NetCDFVariables.Child(name)
}

// VariableNames returns the canonical variable names in document order,
// excluding the time axis.
func (c *Config) VariableNames() []string {
	names := make([]string, 0, len(c.NetCDFVariables))
	for _, attr := range c.NetCDFVariables {
		if attr.Key == naming.Time {
			continue
		}
		names = append(names, attr.Key)
	}
	return names
}

// Table builds the alias table this document implies: every variable in the
// document, with its source binding as the preferred alias and the stock
// aliases for that variable as fallbacks. Variables unknown to the stock
// table (operator additions) resolve only via their declared source.
func (c *Config) Table() (*naming.Table, error) {
	stock := naming.DefaultTable()

	variables := make([]naming.Variable, 0, len(c.NetCDFVariables))

	for _, attr := range c.NetCDFVariables {
		if attr.Key == naming.Time {
			continue
		}

		block, ok := attr.Value.(Attrs)
		if !ok {
			return nil, errors.Errorf("netcdf variable '%s' is not a mapping", attr.Key)
		}

		source := block.String("source")

		v := naming.Variable{Name: attr.Key, Aliases: []string{source}}

		if stockVar, ok := stock.Get(attr.Key); ok {
			v.Mandatory = stockVar.Mandatory
			for _, alias := range stockVar.Aliases {
				if alias != source {
					v.Aliases = append(v.Aliases, alias)
				}
			}
		}

		variables = append(variables, v)
	}

	return naming.NewTable(variables)
}

// Qartod returns the QC test parameter block for one canonical variable.
func (c *Config) Qartod(name string) (Attrs, bool) {
	return c.QartodTests.Child(name)
}

// Write serializes the document to path. The write goes to a temp file in the
// same directory followed by a rename, so a crash cannot leave a half written
// document where the pipeline will find it. At most the immediate parent
// directory is created: a missing grandparent means the caller pointed at the
// wrong data dir, and surfaces as the I/O error it is.
func (c *Config) Write(path string) error {
	var buf bytes.Buffer

	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)

	if err := encoder.Encode(c); err != nil {
		return errors.Wrap(err, "failed to serialize deployment document")
	}

	if err := encoder.Close(); err != nil {
		return errors.Wrap(err, "failed to flush yaml encoder")
	}

	if err := os.Mkdir(filepath.Dir(path), 0755); err != nil && !os.IsExist(err) {
		return errors.Wrap(err, "failed to create document directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp document")
	}

	if _, err = tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to write temp document")
	}

	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to close temp document")
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to promote document into place")
	}

	return nil
}

// WriteModes duplicates the document into each mode's working directory, so a
// mode subtree handed off on its own (a delayed reprocessing machine, a DAC
// submission) still carries the document it was processed with.
func (c *Config) WriteModes(deploy *Deployment) error {
	for _, m := range []Mode{Realtime, Delayed} {
		if err := c.Write(filepath.Join(deploy.ModeDir(m), ConfigFileName)); err != nil {
			return errors.Wrapf(err, "failed to duplicate document for %s", m)
		}
	}

	return nil
}
