package fdt

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// LoadYAML decodes a YAML document describing a device-tree node hierarchy
// into a Node. The document uses the same field names as the JSON form.
func LoadYAML(data []byte) (Node, error) {
	var root Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return Node{}, fmt.Errorf("fdt: decode yaml tree: %w", err)
	}
	if err := validateNode(root, "/"); err != nil {
		return Node{}, err
	}
	return root, nil
}

func validateNode(n Node, path string) error {
	for name, prop := range n.Properties {
		if prop.DefinedCount() > 1 {
			return fmt.Errorf("fdt: node %s property %q has multiple value kinds", path, name)
		}
	}
	for _, child := range n.Children {
		if child.Name == "" {
			return fmt.Errorf("fdt: node %s has an unnamed child", path)
		}
		if err := validateNode(child, path+child.Name+"/"); err != nil {
			return err
		}
	}
	return nil
}
