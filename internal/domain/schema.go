package domain

// SpecFormat identifies the serialization of a fetched OpenAPI document.
type SpecFormat string

const (
	SpecFormatJSON SpecFormat = "json"
	SpecFormatYAML SpecFormat = "yaml"
)

// SpecSource describes where an OpenAPI document comes from.
// Data, when non-empty, takes precedence over Location and no fetch is made.
type SpecSource struct {
	// Location is an http(s) URL or a filesystem path.
	Location string
	// Data holds a raw JSON or YAML document.
	Data []byte
	// Headers are sent with the fetch when Location is a URL.
	Headers map[string]string
}

// String returns a printable name for the source, used in logs and errors.
func (s SpecSource) String() string {
	if s.Location != "" {
		return s.Location
	}
	if len(s.Data) > 0 {
		return "<inline>"
	}
	return "<empty>"
}

// APISpec is the normalized, validated model produced by a SpecLoader.
type APISpec struct {
	Source         string
	Format         SpecFormat
	OpenAPIVersion string
	Title          string
	Version        string
	Description    string
	// ServerURL is the first usable http(s) server, resolved against Source when relative.
	// Empty when the document declares none.
	ServerURL string
	// Operations are listed in document declaration order.
	Operations []OperationSpec
}

// JSONSchemaProps is the JSON-Schema subset used for handle input and output descriptions.
type JSONSchemaProps struct {
	Type        string                     `json:"type,omitempty"`
	Description string                     `json:"description,omitempty"`
	Properties  map[string]JSONSchemaProps `json:"properties,omitempty"`
	Required    []string                   `json:"required,omitempty"`
	Items       *JSONSchemaProps           `json:"items,omitempty"`
	Format      string                     `json:"format,omitempty"`
	Enum        []any                      `json:"enum,omitempty"`
	Default     any                        `json:"default,omitempty"`
	Minimum     *float64                   `json:"minimum,omitempty"`
	Maximum     *float64                   `json:"maximum,omitempty"`
	MinLength   *uint64                    `json:"minLength,omitempty"`
	MaxLength   *uint64                    `json:"maxLength,omitempty"`
	Pattern     string                     `json:"pattern,omitempty"`
}
