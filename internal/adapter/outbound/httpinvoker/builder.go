package httpinvoker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"github.com/yosida95/uritemplate/v3"

	"github.com/i2y/oapimcp/internal/domain"
	"github.com/i2y/oapimcp/internal/usecase"
)

// RequestBuilder maps validated arguments onto an operation's path, query,
// header, cookie and body slots.
type RequestBuilder struct{}

// NewRequestBuilder creates a RequestBuilder.
func NewRequestBuilder() *RequestBuilder { return &RequestBuilder{} }

// Build implements usecase.RequestBuilder.
func (b *RequestBuilder) Build(baseURL string, op domain.OperationSpec, args map[string]any) (usecase.OutboundRequest, error) {
	path, err := expandPath(op, args)
	if err != nil {
		return usecase.OutboundRequest{}, err
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + path)
	if err != nil {
		return usecase.OutboundRequest{}, fmt.Errorf("invalid URL %s%s: %w", baseURL, path, err)
	}

	req := usecase.OutboundRequest{
		Method: strings.ToUpper(op.Method),
		URL:    u,
		Query:  u.Query(),
		Header: http.Header{},
	}
	u.RawQuery = ""

	for _, p := range op.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil {
			continue
		}
		switch p.In {
		case domain.ParamInQuery:
			vals, err := toStrings(p.Name, v)
			if err != nil {
				return usecase.OutboundRequest{}, err
			}
			req.Query.Del(p.Name)
			for _, s := range vals {
				req.Query.Add(p.Name, s)
			}
		case domain.ParamInHeader:
			s, err := toJoined(p.Name, v)
			if err != nil {
				return usecase.OutboundRequest{}, err
			}
			req.Header.Set(p.Name, s)
			setKeyParam(&req, "header:"+http.CanonicalHeaderKey(p.Name), s)
		case domain.ParamInCookie:
			s, err := toJoined(p.Name, v)
			if err != nil {
				return usecase.OutboundRequest{}, err
			}
			req.Cookies = append(req.Cookies, &http.Cookie{Name: p.Name, Value: s})
			setKeyParam(&req, "cookie:"+p.Name, s)
		}
	}

	if op.RequestBody != nil {
		body, present := bodyValue(op, args)
		if present {
			data, err := encodeBody(op.RequestBody.ContentType, body)
			if err != nil {
				return usecase.OutboundRequest{}, err
			}
			req.Body = data
			req.Header.Set("Content-Type", op.RequestBody.ContentType)
		}
	}
	if op.ResponseContentType != "" {
		req.Header.Set("Accept", op.ResponseContentType)
	}
	return req, nil
}

func setKeyParam(req *usecase.OutboundRequest, key, value string) {
	if req.KeyParams == nil {
		req.KeyParams = url.Values{}
	}
	req.KeyParams.Set(key, value)
}

// expandPath substitutes path placeholders. Templates with names RFC 6570
// cannot express, such as "pet-id", fall back to plain replacement.
func expandPath(op domain.OperationSpec, args map[string]any) (string, error) {
	names := op.PathPlaceholders()
	if len(names) == 0 {
		return op.Path, nil
	}
	values := make(map[string]string, len(names))
	for _, name := range names {
		v, ok := args[name]
		if !ok || v == nil {
			return "", &domain.ValidationError{Kind: domain.KindMissingArgument, Field: name, Detail: "path parameter is required"}
		}
		s, err := toJoined(name, v)
		if err != nil {
			return "", err
		}
		values[name] = s
	}

	if tmpl, err := uritemplate.New(op.Path); err == nil {
		vars := uritemplate.Values{}
		for name, s := range values {
			vars.Set(name, uritemplate.String(s))
		}
		if expanded, err := tmpl.Expand(vars); err == nil {
			return expanded, nil
		}
	}
	path := op.Path
	for name, s := range values {
		path = strings.ReplaceAll(path, "{"+name+"}", url.PathEscape(s))
	}
	return path, nil
}

// bodyValue collects the request body from args. Object bodies whose fields
// were merged into the top-level arguments are reassembled here.
func bodyValue(op domain.OperationSpec, args map[string]any) (any, bool) {
	rb := op.RequestBody
	if len(rb.Fields) == 0 {
		v, ok := args[domain.BodyArgument]
		return v, ok && v != nil
	}
	obj := make(map[string]any, len(rb.Fields))
	for _, f := range rb.Fields {
		if v, ok := args[f]; ok {
			obj[f] = v
		}
	}
	if len(obj) == 0 && !rb.Required {
		return nil, false
	}
	return obj, true
}

func encodeBody(contentType string, v any) ([]byte, error) {
	mt := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	switch {
	case mt == "application/x-www-form-urlencoded":
		m, err := cast.ToStringMapE(v)
		if err != nil {
			return nil, &domain.ValidationError{Kind: domain.KindTypeMismatch, Field: domain.BodyArgument, Detail: "form body must be an object"}
		}
		form := url.Values{}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			vals, err := toStrings(k, m[k])
			if err != nil {
				return nil, err
			}
			for _, s := range vals {
				form.Add(k, s)
			}
		}
		return []byte(form.Encode()), nil
	case strings.HasPrefix(mt, "text/"):
		s, err := cast.ToStringE(v)
		if err != nil {
			return json.Marshal(v)
		}
		return []byte(s), nil
	case mt == "application/octet-stream":
		if s, ok := v.(string); ok {
			return []byte(s), nil
		}
		return json.Marshal(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		return data, nil
	}
}

// toStrings renders a scalar or an array argument as query values.
func toStrings(name string, v any) ([]string, error) {
	switch v.(type) {
	case []any, []string, []int, []float64, []bool:
		items, err := cast.ToSliceE(v)
		if err != nil {
			// cast handles []any and []map only; fall back to string slices.
			ss, serr := cast.ToStringSliceE(v)
			if serr != nil {
				return nil, &domain.ValidationError{Kind: domain.KindTypeMismatch, Field: name, Detail: serr.Error()}
			}
			return ss, nil
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, err := scalarString(name, item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	}
	s, err := scalarString(name, v)
	if err != nil {
		return nil, err
	}
	return []string{s}, nil
}

// toJoined renders an argument as one string, joining arrays with commas.
func toJoined(name string, v any) (string, error) {
	vals, err := toStrings(name, v)
	if err != nil {
		return "", err
	}
	return strings.Join(vals, ","), nil
}

func scalarString(name string, v any) (string, error) {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err != nil {
			return "", &domain.ValidationError{Kind: domain.KindTypeMismatch, Field: name, Detail: err.Error()}
		}
		return string(data), nil
	case float64, float32:
		// JSON numbers arrive as float64; render integral values without a fraction.
		f := cast.ToFloat64(v)
		if f == float64(int64(f)) {
			return cast.ToString(int64(f)), nil
		}
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", &domain.ValidationError{Kind: domain.KindTypeMismatch, Field: name, Detail: err.Error()}
	}
	return s, nil
}
