// Package cfg loads configuration from flag defaults, YAML files and command
// line flags, in that order of precedence.
package cfg

import (
	"bytes"
	"flag"
	"os"
	"reflect"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/grafana/morsel/pkg/util/flagext"
)

// Registerer is implemented by configs that can register their flags.
type Registerer interface {
	RegisterFlags(f *flag.FlagSet)
}

// Source is a generic configuration source. This function may do whatever is
// required to obtain the configuration. It is passed a pointer to the
// destination, which will be something compatible to `yaml.Unmarshal`. The
// obtained configuration may be written to this object, it may also contain
// data from previous sources.
type Source func(interface{}) error

// Unmarshal merges the values of the various configuration sources and sets them on
// `dst`. The object must be compatible with `yaml.Unmarshal`.
func Unmarshal(dst interface{}, sources ...Source) error {
	if len(sources) == 0 {
		panic("No sources supplied to cfg.Unmarshal(). This is most likely a programming issue and should never happen. Check the code!")
	}
	for _, source := range sources {
		if err := source(dst); err != nil {
			return errors.Wrap(err, "sourcing")
		}
	}
	return nil
}

// Parse registers the flags of dst on fs, including -config.file, and loads
// dst from the flag defaults, the config files and the flags given in args.
func Parse(dst Registerer, fs *flag.FlagSet, args []string) error {
	if reflect.ValueOf(dst).Kind() != reflect.Ptr {
		panic("dst not a pointer")
	}

	var files flagext.ConfigFiles
	fs.Var(&files, "config.file", "YAML file to load. May be repeated or comma-separated; later files override earlier ones.")

	return Unmarshal(dst,
		Defaults(fs),
		ConfigFiles(fs, args, &files),
		Flags(fs, args),
	)
}

// Defaults registers the flags of dst on fs, which sets dst to the flag
// defaults.
func Defaults(fs *flag.FlagSet) Source {
	return func(dst interface{}) error {
		r, ok := dst.(Registerer)
		if !ok {
			return errors.Errorf("%T does not register flags", dst)
		}
		r.RegisterFlags(fs)
		return nil
	}
}

// ConfigFiles loads every file named by the -config.file flag in args. The
// flags of dst must already be registered on fs.
func ConfigFiles(fs *flag.FlagSet, args []string, files *flagext.ConfigFiles) Source {
	return func(dst interface{}) error {
		if err := fs.Parse(args); err != nil {
			return errors.Wrap(err, "parsing flags")
		}
		for _, path := range *files {
			if err := YAML(path)(dst); err != nil {
				return err
			}
		}
		return nil
	}
}

// YAML loads the YAML file at path into dst. Unknown fields are rejected.
func YAML(path string) Source {
	return func(dst interface{}) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return errors.Wrap(err, "reading config file")
		}
		return errors.Wrapf(dYAML(data)(dst), "loading %s", path)
	}
}

func dYAML(data []byte) Source {
	return func(dst interface{}) error {
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		return dec.Decode(dst)
	}
}

// Flags parses args into fs. Only flags given in args override values loaded
// by earlier sources.
func Flags(fs *flag.FlagSet, args []string) Source {
	return func(interface{}) error {
		return errors.Wrap(fs.Parse(args), "parsing flags")
	}
}
