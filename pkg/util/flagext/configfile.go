// Package flagext holds flag.Value types used by the morsel commands.
package flagext

import "strings"

// ConfigFiles collects the YAML files given to -config.file. The flag may be
// repeated or carry a comma-separated list. Files load in the order given.
type ConfigFiles []string

// String implements flag.Value.
func (f *ConfigFiles) String() string {
	return strings.Join(*f, ",")
}

// Set implements flag.Value.
func (f *ConfigFiles) Set(value string) error {
	for path := range strings.SplitSeq(value, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		*f = append(*f, path)
	}
	return nil
}
