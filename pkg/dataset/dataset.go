package dataset

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	msgpack "github.com/vmihailenco/msgpack/v5"
)

// FileExt is the extension every dataset file carries.
const FileExt = ".kgd"

// magic identifies a dataset file and its container version. Bump the digit
// when the container layout changes incompatibly.
var magic = []byte("KGD1")

// Attr is one attribute in a dataset, global or per variable. Order is
// preserved through serialization so a rewritten unchanged dataset is byte
// identical.
type Attr struct {
	Key   string      `msgpack:"k"`
	Value interface{} `msgpack:"v"`
}

// Variable is one named column: its attributes and its values, aligned with
// the dataset's time variable. NaN marks a missing sample.
type Variable struct {
	Name   string    `msgpack:"name"`
	Attrs  []Attr    `msgpack:"attrs"`
	Values []float64 `msgpack:"values"`
}

// Provenance records where a dataset came from, for auditability. RunID is
// fresh per pipeline run; Created is the run clock's RFC3339 timestamp.
type Provenance struct {
	RunID      string `msgpack:"run_id"`
	Deployment string `msgpack:"deployment"`
	Mode       string `msgpack:"mode"`
	Level      string `msgpack:"level"`
	Created    string `msgpack:"created"`
	Samples    int    `msgpack:"samples"`
}

// Dataset is the standardized output container: global attributes plus named
// variables over a shared time axis, self describing enough for the external
// compliance checker and analysis toolkit to consume without side channels.
type Dataset struct {
	Provenance Provenance `msgpack:"provenance"`
	Global     []Attr     `msgpack:"global"`
	Variables  []Variable `msgpack:"variables"`
}

// Variable returns the named variable, or false.
func (d *Dataset) Variable(name string) (*Variable, bool) {
	for i := range d.Variables {
		if d.Variables[i].Name == name {
			return &d.Variables[i], true
		}
	}
	return nil, false
}

// GlobalString returns the named global attribute as a string, or "".
func (d *Dataset) GlobalString(key string) string {
	for _, attr := range d.Global {
		if attr.Key == key {
			if s, ok := attr.Value.(string); ok {
				return s
			}
			return ""
		}
	}
	return ""
}

// Write serializes the dataset to path. The bytes go to a temp file in the
// target directory followed by a rename, so readers never observe a truncated
// dataset and an aborted run leaves no half written file at the final path.
func (d *Dataset) Write(path string) error {
	var buf bytes.Buffer
	buf.Write(magic)

	encoder := msgpack.NewEncoder(&buf)
	if err := encoder.Encode(d); err != nil {
		return errors.Wrap(err, "failed to serialize dataset")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "failed to create dataset directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp dataset")
	}

	if _, err = tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to write temp dataset")
	}

	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to close temp dataset")
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "failed to promote dataset into place")
	}

	return nil
}

// Read loads a dataset from path.
func Read(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read dataset %s", path)
	}

	if len(raw) < len(magic) || !bytes.Equal(raw[:len(magic)], magic) {
		return nil, errors.Errorf("%s is not a dataset file", path)
	}

	var d Dataset

	decoder := msgpack.NewDecoder(bytes.NewReader(raw[len(magic):]))
	if err := decoder.Decode(&d); err != nil {
		return nil, errors.Wrapf(err, "failed to parse dataset %s", path)
	}

	return &d, nil
}

// isNotExist unwraps pkg/errors wrapping before asking the os.
func isNotExist(err error) bool {
	return os.IsNotExist(errors.Cause(err))
}
