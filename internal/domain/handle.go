package domain

// HandleKind tells the MCP host how a handle is exposed.
type HandleKind string

const (
	// HandleTool is invoked with arguments.
	HandleTool HandleKind = "tool"
	// HandleResource is read without arguments.
	HandleResource HandleKind = "resource"
)

// Handle is the unit exposed through the registration boundary.
// It is created once per registry build and never mutated.
type Handle struct {
	// Name is unique within a registry and matches ^[a-zA-Z0-9_-]{1,64}$.
	Name        string
	Kind        HandleKind
	Description string
	InputSchema JSONSchemaProps
	// OutputSchema describes the preferred success response. Optional.
	OutputSchema *JSONSchemaProps
	// URI addresses resource handles; empty for tools.
	URI      string
	MIMEType string
	// Operation is the OperationSpec this handle was built from.
	Operation OperationSpec
}

// Describe builds the human-readable description of an operation.
func Describe(op OperationSpec) string {
	switch {
	case op.Summary != "" && op.Description != "" && op.Summary != op.Description:
		return op.Summary + "\n\n" + op.Description
	case op.Description != "":
		return op.Description
	case op.Summary != "":
		return op.Summary
	}
	return "Executes " + op.Method + " " + op.Path
}

// BuildInputSchema derives the argument schema of an operation: one property
// per parameter, plus either the merged top-level body fields or a single
// BodyArgument property.
func BuildInputSchema(op OperationSpec) JSONSchemaProps {
	schema := JSONSchemaProps{Type: "object", Properties: map[string]JSONSchemaProps{}}
	for _, p := range op.Parameters {
		prop := p.Schema
		if prop.Description == "" {
			prop.Description = p.Description
		}
		schema.Properties[p.Name] = prop
		if p.Required || p.In == ParamInPath {
			schema.Required = append(schema.Required, p.Name)
		}
	}

	body := op.RequestBody
	if body == nil {
		return schema
	}
	if len(body.Fields) == 0 {
		schema.Properties[BodyArgument] = body.Schema
		if body.Required {
			schema.Required = append(schema.Required, BodyArgument)
		}
		return schema
	}
	bodyRequired := make(map[string]bool, len(body.Schema.Required))
	for _, name := range body.Schema.Required {
		bodyRequired[name] = true
	}
	for _, name := range body.Fields {
		schema.Properties[name] = body.Schema.Properties[name]
		if body.Required && bodyRequired[name] {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}
