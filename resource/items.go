package resource

import (
	"fmt"
	"os"

	"github.com/kasuganosora/bountyboard/game/quest"
	"gopkg.in/yaml.v3"
)

type itemsFile struct {
	Items []quest.ItemDef `yaml:"items"`
}

// LoadItems reads the item registry from a YAML file of the form
//
//	items:
//	  - id: iron_ore
//	    name: Iron Ore
//	    max_stack: 64
func LoadItems(path string) (*quest.ItemRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resource: read %s: %w", path, err)
	}
	return ParseItems(data)
}

// ParseItems decodes an items document. Entries without an id are rejected.
func ParseItems(data []byte) (*quest.ItemRegistry, error) {
	var f itemsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("resource: parse items: %w", err)
	}
	reg := quest.NewItemRegistry()
	for i, d := range f.Items {
		if d.ID == "" {
			return nil, fmt.Errorf("resource: item %d has no id", i)
		}
		reg.Register(d)
	}
	return reg, nil
}
