package hints

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// configFile is the on-disk YAML shape LoadConfigFile decodes, one stub
// zone per entry plus the inert root-hints-file hook.
type configFile struct {
	RootHintsFile string   `yaml:"rootHintsFile"`
	Stubs         []stubEntry `yaml:"stubs"`
}

type stubEntry struct {
	Name  string   `yaml:"name"`
	Hosts []string `yaml:"hosts"`
	Addrs []string `yaml:"addrs"`
}

// LoadConfigFile reads a stub/root-hints configuration from path and
// returns the Config snapshot ApplyConfig expects. Grounded on the
// teacher's own config-from-YAML idiom (gopkg.in/yaml.v3, struct tags
// matching the on-disk keys verbatim); unbound itself parses this from
// unbound.conf's stub-zone clauses, which this package has no parser for,
// so YAML is the config surface instead.
func LoadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("hints: reading %s: %w", path, err)
	}

	var cf configFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return Config{}, fmt.Errorf("hints: parsing %s: %w", path, err)
	}

	cfg := Config{RootHintsFile: cf.RootHintsFile}
	for _, se := range cf.Stubs {
		cfg.Stubs = append(cfg.Stubs, StubEntry{
			Name:  se.Name,
			Hosts: se.Hosts,
			Addrs: se.Addrs,
		})
	}
	return cfg, nil
}
