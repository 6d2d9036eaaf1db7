package openapi

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/i2y/oapimcp/internal/domain"
)

var methodOrder = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

// opRef addresses one operation in a document.
type opRef struct {
	path   string
	method string // upper case
}

// detectFormat picks the document format from the content type, then the
// location extension, then the first significant byte of data.
func detectFormat(location, contentType string, data []byte) domain.SpecFormat {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return domain.SpecFormatJSON
	case strings.Contains(ct, "yaml"), strings.Contains(ct, "yml"):
		return domain.SpecFormatYAML
	}

	loc := location
	if i := strings.IndexAny(loc, "?#"); i >= 0 {
		loc = loc[:i]
	}
	switch strings.ToLower(path.Ext(loc)) {
	case ".json":
		return domain.SpecFormatJSON
	case ".yaml", ".yml":
		return domain.SpecFormatYAML
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return domain.SpecFormatJSON
	}
	return domain.SpecFormatYAML
}

// rawDocument is the yaml.v3 node view of a document. yaml.v3 reads JSON
// as well, and unlike the kin-openapi model it keeps key order.
type rawDocument struct {
	root *yaml.Node
}

func parseRawDocument(data []byte) (*rawDocument, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, errors.New("document root is not an object")
	}
	return &rawDocument{root: doc.Content[0]}, nil
}

// lookup returns the value node of key in a mapping node.
func lookup(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// version returns the declared OpenAPI version or fails with UnsupportedVersion.
func (d *rawDocument) version() (string, error) {
	if v := lookup(d.root, "openapi"); v != nil {
		if !strings.HasPrefix(v.Value, "3.") {
			return "", fmt.Errorf("openapi %q is not a 3.x document", v.Value)
		}
		return v.Value, nil
	}
	if v := lookup(d.root, "swagger"); v != nil {
		return "", fmt.Errorf("swagger %q documents are not supported, convert to OpenAPI 3", v.Value)
	}
	return "", errors.New("document declares neither openapi nor swagger version")
}

// operationOrder lists operations in declaration order, and the paths that
// declare no operation at all.
func (d *rawDocument) operationOrder() (ops []opRef, empty []string) {
	paths := lookup(d.root, "paths")
	if paths == nil || paths.Kind != yaml.MappingNode {
		return nil, nil
	}
	for i := 0; i+1 < len(paths.Content); i += 2 {
		p := paths.Content[i].Value
		item := paths.Content[i+1]
		n := 0
		if item.Kind == yaml.MappingNode {
			for j := 0; j+1 < len(item.Content); j += 2 {
				key := strings.ToLower(item.Content[j].Value)
				if isMethod(key) {
					ops = append(ops, opRef{path: p, method: strings.ToUpper(key)})
					n++
				}
			}
		}
		// A $ref path item is resolved by kin-openapi; its operations are
		// appended later in sorted order.
		if n == 0 && lookup(item, "$ref") == nil {
			empty = append(empty, p)
		}
	}
	return ops, empty
}

func isMethod(s string) bool {
	for _, m := range methodOrder {
		if s == m {
			return true
		}
	}
	return false
}
