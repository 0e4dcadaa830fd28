package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// LoadFile reads policy overrides from a YAML or TOML file. Unknown keys are
// rejected so a typo cannot silently widen the policy.
func LoadFile(path string) (Overrides, error) {
	var o Overrides

	data, err := os.ReadFile(path)
	if err != nil {
		return o, fmt.Errorf("read policy file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&o); err != nil {
			if errors.Is(err, io.EOF) {
				return o, nil
			}
			return o, fmt.Errorf("parse policy file %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), &o)
		if err != nil {
			return o, fmt.Errorf("parse policy file %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return o, fmt.Errorf("parse policy file %s: unknown keys %v", path, undecoded)
		}
	default:
		return o, fmt.Errorf("unsupported policy file type %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
	return o, nil
}
