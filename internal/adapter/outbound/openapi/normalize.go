package openapi

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/i2y/oapimcp/internal/domain"
)

// maxSchemaDepth bounds schema conversion so recursive $refs terminate.
const maxSchemaDepth = 8

// normalizer converts kin-openapi operations into domain.OperationSpec values.
type normalizer struct {
	logger *slog.Logger
}

func (n *normalizer) operation(path, method string, item *openapi3.PathItem, op *openapi3.Operation) domain.OperationSpec {
	log := n.logger.With(slog.String("path", path), slog.String("method", method))

	spec := domain.OperationSpec{
		OperationID: op.OperationID,
		Method:      method,
		Path:        path,
		Summary:     op.Summary,
		Description: op.Description,
		Tags:        append([]string(nil), op.Tags...),
	}
	if spec.OperationID == "" {
		spec.OperationID = domain.SynthesizeOperationID(method, path)
		spec.SynthesizedID = true
		log.Debug("Synthesized operationId", slog.String("operation_id", spec.OperationID))
	}

	spec.Parameters = n.parameters(log, item.Parameters, op.Parameters)
	spec.RequestBody = n.requestBody(log, op.RequestBody, spec.Parameters)
	spec.Responses, spec.ResponseContentType = n.responses(log, op.Responses)
	return spec
}

// parameters merges path-item and operation parameters. Operation
// parameters override path-item ones with the same name and location.
func (n *normalizer) parameters(log *slog.Logger, shared, own openapi3.Parameters) []domain.Parameter {
	type key struct{ name, in string }
	var (
		out   []domain.Parameter
		index = map[key]int{}
	)
	for _, list := range []openapi3.Parameters{shared, own} {
		for _, ref := range list {
			if ref == nil || ref.Value == nil {
				continue
			}
			p := ref.Value
			param := domain.Parameter{
				Name:        p.Name,
				In:          domain.ParamLocation(p.In),
				Required:    p.Required || p.In == openapi3.ParameterInPath,
				Description: p.Description,
			}
			if p.Schema != nil {
				param.Schema = n.schema(log, p.Schema, 0)
			} else {
				log.Debug("Parameter has no schema, treating as string", slog.String("param_name", p.Name))
				param.Schema = domain.JSONSchemaProps{Type: "string"}
			}
			if param.Schema.Description == "" {
				param.Schema.Description = p.Description
			}
			k := key{p.Name, p.In}
			if i, ok := index[k]; ok {
				out[i] = param
				continue
			}
			index[k] = len(out)
			out = append(out, param)
		}
	}
	return out
}

// preferredContent picks JSON first, then any +json type, then form
// encoding, then the alphabetically first declared type.
func preferredContent(content openapi3.Content) (string, *openapi3.MediaType) {
	if len(content) == 0 {
		return "", nil
	}
	if mt := content.Get("application/json"); mt != nil {
		return "application/json", mt
	}
	types := make([]string, 0, len(content))
	for ct := range content {
		types = append(types, ct)
	}
	sort.Strings(types)
	for _, ct := range types {
		if strings.HasSuffix(ct, "+json") {
			return ct, content[ct]
		}
	}
	if mt, ok := content["application/x-www-form-urlencoded"]; ok {
		return "application/x-www-form-urlencoded", mt
	}
	return types[0], content[types[0]]
}

func (n *normalizer) requestBody(log *slog.Logger, ref *openapi3.RequestBodyRef, params []domain.Parameter) *domain.RequestBody {
	if ref == nil || ref.Value == nil {
		return nil
	}
	ct, mt := preferredContent(ref.Value.Content)
	if mt == nil {
		log.Debug("Request body declares no content")
		return nil
	}
	body := &domain.RequestBody{Required: ref.Value.Required, ContentType: ct}
	if mt.Schema != nil {
		body.Schema = n.schema(log, mt.Schema, 0)
	}
	if body.Schema.Description == "" {
		body.Schema.Description = ref.Value.Description
	}

	if body.Schema.Type != "object" || len(body.Schema.Properties) == 0 {
		return body
	}
	taken := make(map[string]bool, len(params)+1)
	for _, p := range params {
		taken[p.Name] = true
	}
	taken[domain.BodyArgument] = true
	fields := make([]string, 0, len(body.Schema.Properties))
	for name := range body.Schema.Properties {
		if taken[name] {
			log.Warn("Body field collides with a parameter, passing body as a single argument",
				slog.String("field_name", name))
			return body
		}
		fields = append(fields, name)
	}
	sort.Strings(fields)
	body.Fields = fields
	return body
}

func (n *normalizer) responses(log *slog.Logger, responses *openapi3.Responses) (map[string]domain.JSONSchemaProps, string) {
	if responses == nil || len(responses.Map()) == 0 {
		return nil, ""
	}
	codes := make([]string, 0, len(responses.Map()))
	for code := range responses.Map() {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	out := make(map[string]domain.JSONSchemaProps)
	successType := ""
	for _, code := range codes {
		ref := responses.Map()[code]
		if ref == nil || ref.Value == nil {
			continue
		}
		ct, mt := preferredContent(ref.Value.Content)
		if successType == "" && strings.HasPrefix(code, "2") && ct != "" {
			successType = ct
		}
		if mt == nil || mt.Schema == nil {
			continue
		}
		out[code] = n.schema(log, mt.Schema, 0)
	}
	if len(out) == 0 {
		out = nil
	}
	return out, successType
}

// schema converts a kin-openapi schema into domain.JSONSchemaProps.
// Handles basic types, objects, arrays, enums and allOf composition.
func (n *normalizer) schema(log *slog.Logger, ref *openapi3.SchemaRef, depth int) domain.JSONSchemaProps {
	if ref == nil || ref.Value == nil || depth > maxSchemaDepth {
		return domain.JSONSchemaProps{}
	}
	s := ref.Value

	var schemaType string
	if s.Type != nil && len(*s.Type) > 0 {
		schemaType = (*s.Type)[0]
		if len(*s.Type) > 1 {
			// 3.1 nullable form: ["string", "null"]
			for _, t := range *s.Type {
				if t != "null" {
					schemaType = t
					break
				}
			}
		}
	}

	props := domain.JSONSchemaProps{
		Type:        schemaType,
		Description: s.Description,
		Format:      s.Format,
		Enum:        s.Enum,
		Default:     s.Default,
		Minimum:     s.Min,
		Maximum:     s.Max,
		MaxLength:   s.MaxLength,
		Pattern:     s.Pattern,
	}
	if s.MinLength > 0 {
		minLen := s.MinLength
		props.MinLength = &minLen
	}

	if schemaType == "" && len(s.AllOf) > 0 {
		props.Type = "object"
		for _, part := range s.AllOf {
			merged := n.schema(log, part, depth+1)
			for name, p := range merged.Properties {
				if props.Properties == nil {
					props.Properties = map[string]domain.JSONSchemaProps{}
				}
				props.Properties[name] = p
			}
			props.Required = append(props.Required, merged.Required...)
		}
		return props
	}
	if schemaType == "" && len(s.Properties) > 0 {
		schemaType = "object"
		props.Type = "object"
	}

	switch schemaType {
	case "object":
		props.Required = append([]string(nil), s.Required...)
		if len(s.Properties) > 0 {
			props.Properties = make(map[string]domain.JSONSchemaProps, len(s.Properties))
			for name, p := range s.Properties {
				props.Properties[name] = n.schema(log, p, depth+1)
			}
		}
	case "array":
		if s.Items != nil {
			items := n.schema(log, s.Items, depth+1)
			props.Items = &items
		} else {
			log.Debug("Array schema without items")
		}
	case "string", "number", "integer", "boolean", "":
	default:
		log.Warn("Unsupported schema type, treating as string", slog.String("unsupported_type", schemaType))
		props.Type = "string"
	}
	return props
}

// resolveServerURL returns the first http(s) server of the document. Relative
// server URLs are resolved against the document location, and server
// variables take their default values.
func resolveServerURL(logger *slog.Logger, source string, servers openapi3.Servers) (string, error) {
	if len(servers) == 0 {
		return "", fmt.Errorf("no servers defined in OpenAPI document")
	}
	base, err := url.Parse(source)
	if err != nil || !base.IsAbs() {
		base = nil
	}

	for _, server := range servers {
		if server == nil || server.URL == "" {
			continue
		}
		raw := server.URL
		for name, v := range server.Variables {
			if v != nil {
				raw = strings.ReplaceAll(raw, "{"+name+"}", v.Default)
			}
		}
		u, err := url.Parse(raw)
		if err != nil {
			logger.Warn("Could not parse server URL, skipping", slog.String("url", raw), slog.Any("error", err))
			continue
		}
		if !u.IsAbs() {
			if base == nil {
				logger.Debug("Cannot resolve relative server URL without an http(s) document location", slog.String("relative_url", raw))
				continue
			}
			u = base.ResolveReference(u)
		}
		if (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
			return strings.TrimRight(u.String(), "/"), nil
		}
		logger.Debug("Skipping non-HTTP server URL", slog.String("url", raw))
	}
	return "", fmt.Errorf("no suitable HTTP/HTTPS server URL found or resolvable in OpenAPI document")
}
