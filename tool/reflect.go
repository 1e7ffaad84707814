package tool

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

var reflector = &jsonschema.Reflector{
	Anonymous:                 true,
	DoNotReference:            true,
	AllowAdditionalProperties: false,
	ExpandedStruct:            true,
}

// SchemaFor generates an inline JSON schema for the struct type T.
// Field descriptions come from `jsonschema:"description=..."` tags.
func SchemaFor[T any]() (json.RawMessage, error) {
	var v T
	s := reflector.Reflect(&v)
	s.Version = ""
	return json.Marshal(s)
}

// MustSchemaFor is like SchemaFor but panics on error.
func MustSchemaFor[T any]() json.RawMessage {
	schema, err := SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return schema
}

// EnumSchema returns an object schema with a single required string
// property restricted to values.
func EnumSchema(property, description string, values []string) json.RawMessage {
	enum := make([]any, len(values))
	for i, v := range values {
		enum[i] = v
	}
	props := jsonschema.NewProperties()
	props.Set(property, &jsonschema.Schema{
		Type:        "string",
		Description: description,
		Enum:        enum,
	})
	s := &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             []string{property},
		AdditionalProperties: jsonschema.FalseSchema,
	}
	data, _ := json.Marshal(s)
	return data
}
