package tools

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"ailoy/internal/aerr"
	jmp "ailoy/internal/jmespath"
)

// Authenticator maps an outgoing request to an authenticated one — e.g.
// bearer-token injection or a query-parameter API key (spec §4.9 step 4).
type Authenticator func(req RESTRequest) RESTRequest

// RESTRequest is the shape passed through the VM's http_request operator.
type RESTRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// HTTPInvoker performs the VM operator call http_request(inputs) and
// returns its {status_code, headers, body} result.
type HTTPInvoker func(ctx context.Context, req RESTRequest) (RESTResponse, error)

// RESTResponse is the VM operator's http_request result.
type RESTResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

var placeholderRe = regexp.MustCompile(`\$\{([a-zA-Z0-9_]+)\}`)

// RESTDefinition is a restapi ToolDefinition (spec §4.9/§6: `{baseURL,
// method, headers, body?, outputPath?}`).
type RESTDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
	BaseURL     string
	Method      string
	Headers     map[string]string
	Body        string
	Accept      string
	OutputPath  string
	Auth        Authenticator
}

type restTool struct {
	def    RESTDefinition
	invoke HTTPInvoker
}

// NewRESTTool adapts a RESTDefinition into a Tool, invoking http_request
// through invoke (normally vm.VM.Call wired to the "http_request" operator).
func NewRESTTool(def RESTDefinition, invoke HTTPInvoker) Tool {
	return &restTool{def: def, invoke: invoke}
}

func (t *restTool) Descriptor() Descriptor {
	return Descriptor{Name: t.def.Name, Description: t.def.Description, Parameters: t.def.Parameters}
}

func (t *restTool) Call(ctx context.Context, raw json.RawMessage) (any, error) {
	inputs := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &inputs); err != nil {
			return nil, aerr.Wrap(aerr.InvalidToolCall, err, "decode arguments for tool %q", t.def.Name)
		}
	}

	pathParams := placeholderNames(t.def.BaseURL)
	bodyParams := placeholderNames(t.def.Body)

	expandedURL, err := expand(t.def.BaseURL, inputs)
	if err != nil {
		return nil, err
	}
	expandedBody, err := expand(t.def.Body, inputs)
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	for k, v := range inputs {
		if pathParams[k] || bodyParams[k] {
			continue
		}
		query.Set(k, toQueryString(v))
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(expandedURL, "?") {
			sep = "&"
		}
		expandedURL += sep + query.Encode()
	}

	req := RESTRequest{
		URL:     expandedURL,
		Method:  t.def.Method,
		Headers: cloneHeaders(t.def.Headers),
		Body:    expandedBody,
	}
	if t.def.Auth != nil {
		req = t.def.Auth(req)
	}

	resp, err := t.invoke(ctx, req)
	if err != nil {
		return nil, aerr.Wrap(aerr.Transport, err, "http_request for tool %q", t.def.Name)
	}

	var payload any
	if strings.Contains(strings.ToLower(t.def.Accept), "application/json") {
		if err := json.Unmarshal(resp.Body, &payload); err != nil {
			return nil, aerr.Wrap(aerr.Validation, err, "decode JSON response for tool %q", t.def.Name)
		}
	} else {
		payload = resp.Body
	}

	if t.def.OutputPath != "" {
		reduced, err := jmp.Search(t.def.OutputPath, payload)
		if err != nil {
			return nil, err
		}
		return reduced, nil
	}
	return payload, nil
}

func placeholderNames(s string) map[string]bool {
	names := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(s, -1) {
		names[m[1]] = true
	}
	return names
}

func expand(template string, inputs map[string]any) (string, error) {
	if template == "" {
		return "", nil
	}
	var outerErr error
	out := placeholderRe.ReplaceAllStringFunc(template, func(m string) string {
		name := m[2 : len(m)-1]
		v, ok := inputs[name]
		if !ok {
			outerErr = aerr.New(aerr.InvalidToolCall, "missing required parameter %q", name)
			return m
		}
		return toQueryString(v)
	})
	if outerErr != nil {
		return "", outerErr
	}
	return out, nil
}

func toQueryString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		s := string(b)
		return strings.Trim(s, `"`)
	}
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
