// Package config owns the persisted option tree the core reads settings
// from and writes settings back to. It is deliberately thin: parsing a
// full CLI surface or a rich schema is an external collaborator's job;
// this package only gives the core a place to load and save the
// sections it configures itself from (Devices, Inputs, Outputs,
// Filters, Detectors, Macros, Session), loading each section's keys
// out of viper at startup and relying on viper for persistence
// thereafter.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Section names for the sections of the option tree the core itself
// reads and writes.
const (
	SectionDevices   = "devices"
	SectionInputs    = "inputs"
	SectionOutputs   = "outputs"
	SectionFilters   = "filters"
	SectionDetectors = "detectors"
	SectionMacros    = "macros"
	SectionSession   = "session"
)

// Tree wraps a *viper.Viper instance scoped to one config file, giving
// the core typed Load/Save helpers for the sections above.
type Tree struct {
	v *viper.Viper
}

// New creates a Tree reading/writing the given file. If path is empty
// the Tree operates purely in memory (useful for tests and for the
// simulated-device default run).
func New(path string) (*Tree, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		}
	}
	return &Tree{v: v}, nil
}

// Load unmarshals the named section into dst. A missing section leaves
// dst untouched and returns no error, matching viper.UnmarshalKey's
// behaviour on an absent key.
func (t *Tree) Load(section string, dst any) error {
	return t.v.UnmarshalKey(section, dst)
}

// Save stores src under the named section and, if the Tree was created
// with a path, persists the whole tree to disk.
func (t *Tree) Save(section string, src any) error {
	t.v.Set(section, src)
	if t.v.ConfigFileUsed() == "" {
		return nil
	}
	return t.v.WriteConfig()
}

// ConfigFileUsed returns the path of the config file in use, or "" if
// the Tree is in-memory only.
func (t *Tree) ConfigFileUsed() string {
	return t.v.ConfigFileUsed()
}

// DeviceConfig is one entry under SectionDevices: which plugin to
// instantiate, under which ident, talking to which device path, with
// which free-form options.
type DeviceConfig struct {
	Group   string
	Plugin  string
	Ident   string
	Path    string
	Options map[string]any
}

// TraceConfig is one entry under SectionInputs or SectionOutputs: the
// static configuration of one InTrace/OutSignal before it is armed.
type TraceConfig struct {
	Ident       string
	Device      string
	Channel     int
	SampleRate  float64
	Reference   string
	Unipolar    bool
	GainIndex   int
	Delay       float64
	StartSource int
}
