package registry

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Schema renders d's arguments as a JSON Schema object.
func Schema(d Descriptor) *jsonschema.Schema {
	props := jsonschema.NewProperties()
	var required []string
	for _, a := range d.Args {
		props.Set(a.Name, argSchema(a))
		if a.Required {
			required = append(required, a.Name)
		}
	}
	return &jsonschema.Schema{
		Version:              jsonschema.Version,
		Title:                d.Name,
		Description:          d.Description,
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

// SchemaJSON returns the indented JSON encoding of Schema(d).
func SchemaJSON(d Descriptor) ([]byte, error) {
	data, err := json.MarshalIndent(Schema(d), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema for %s: %w", d.Name, err)
	}
	return data, nil
}

func argSchema(a ArgSpec) *jsonschema.Schema {
	s := &jsonschema.Schema{Description: a.Description}
	switch a.Type {
	case ArgInt:
		s.Type = "integer"
	case ArgBool:
		s.Type = "boolean"
	case ArgStringList:
		s.Type = "array"
		s.Items = &jsonschema.Schema{Type: "string"}
	case ArgPath:
		s.Type = "string"
		s.Format = "path"
	default:
		s.Type = "string"
	}
	return s
}
