package config

import (
	"bufio"
	"fmt"
	"os"
	"reflect"

	"github.com/naoina/toml"
	"tlog.app/go/errors"
)

// File mirrors the keys accepted in a traitc.toml project file.
type File struct {
	Target   string
	Backend  string
	Output   string
	Features map[string]bool
	Warnings map[string]bool
}

// TOML keys use the same names as the Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		return fmt.Errorf("field '%s' is not defined in %s", field, rt.String())
	},
}

// LoadFile decodes a project file from disk.
func LoadFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()

	var pf File
	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&pf)
	if _, ok := err.(*toml.LineError); ok {
		return nil, errors.New("%s, %v", path, err)
	}
	if err != nil {
		return nil, errors.Wrap(err, "decode %v", path)
	}
	return &pf, nil
}

// Apply copies the file's settings into c. Unknown feature or warning names are errors.
func (pf *File) Apply(c *Config) error {
	if pf.Target != "" {
		c.QbeTarget = pf.Target
	}
	if pf.Backend != "" {
		c.Backend = pf.Backend
	}
	if pf.Output != "" {
		c.Output = pf.Output
	}
	for name, on := range pf.Features {
		ft, ok := c.FeatureMap[name]
		if !ok {
			return errors.New("unknown feature %q", name)
		}
		c.SetFeature(ft, on)
	}
	if on, ok := pf.Warnings["all"]; ok {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, on)
		}
	}
	for name, on := range pf.Warnings {
		if name == "all" {
			continue
		}
		wt, ok := c.WarningMap[name]
		if !ok {
			return errors.New("unknown warning %q", name)
		}
		c.SetWarning(wt, on)
	}
	return nil
}
