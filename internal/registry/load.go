package registry

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Load reads a field list from a YAML file. An empty path yields Default().
//
//	fields:
//	  - id: email
//	    label: Email
//	    type: email
//	    synonyms: [courriel, mail]
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", path)
	}

	var doc struct {
		Fields []FieldDef `yaml:"fields"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "registry: parse fields file")
	}

	return New(doc.Fields)
}
