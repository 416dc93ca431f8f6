package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// writeStructured prints v as indented JSON or YAML. YAML keys follow the
// json tags of v, in field order.
func writeStructured(out io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		node, err := yamlNode(v)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(node); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format %q (must be %s/%s/%s)", format, formatTable, formatJSON, formatYAML)
	}
}

// yamlNode parses the JSON encoding of v as YAML and switches every node
// to block style.
func yamlNode(v any) (*yaml.Node, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	var reset func(n *yaml.Node)
	reset = func(n *yaml.Node) {
		n.Style = 0
		for _, c := range n.Content {
			reset(c)
		}
	}
	reset(&doc)
	return &doc, nil
}
