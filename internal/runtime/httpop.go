package runtime

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"ailoy/internal/aerr"
	"ailoy/internal/tools"
	"ailoy/internal/value"
)

// registerOperators adds the stateless VM operators every builtin tool
// needs by name (spec §4.9: a restapi ToolDefinition ultimately calls
// through to the VM's "http_request" operator). Grounded on the teacher's
// internal/tools/web package: a plain net/http.Client call, with
// observability's redacting transport already wrapped around rt.HTTPClient.
func (rt *Runtime) registerOperators() {
	rt.VM.RegisterOperator("http_request", rt.httpRequestOperator)
}

func (rt *Runtime) httpRequestOperator(ctx context.Context, inputs value.Value) (value.Value, error) {
	urlVal, ok := inputs.Get("url")
	if !ok {
		return value.Value{}, aerr.New(aerr.Validation, "http_request: missing url")
	}
	url, err := urlVal.String()
	if err != nil {
		return value.Value{}, aerr.Wrap(aerr.Validation, err, "http_request: url")
	}

	method := "GET"
	if methodVal, ok := inputs.Get("method"); ok {
		if s, err := methodVal.String(); err == nil && s != "" {
			method = strings.ToUpper(s)
		}
	}

	var body io.Reader
	if bodyVal, ok := inputs.Get("body"); ok && !bodyVal.IsNull() {
		if s, err := bodyVal.String(); err == nil {
			body = strings.NewReader(s)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return value.Value{}, aerr.Wrap(aerr.Validation, err, "http_request: build request")
	}
	if headersVal, ok := inputs.Get("headers"); ok {
		if entries, err := headersVal.MapEntries(); err == nil {
			for _, kv := range entries {
				if s, err := kv.Val.String(); err == nil {
					req.Header.Set(kv.Key, s)
				}
			}
		}
	}

	resp, err := rt.HTTPClient.Do(req)
	if err != nil {
		return value.Value{}, aerr.Wrap(aerr.Transport, err, "http_request: %s %s", method, url)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return value.Value{}, aerr.Wrap(aerr.Transport, err, "http_request: read response body")
	}

	headers := value.NewMap()
	for k := range resp.Header {
		headers.Set(k, value.String(resp.Header.Get(k)))
	}

	out := value.NewMap()
	out.Set("status_code", value.Int(int64(resp.StatusCode)))
	out.Set("headers", headers)
	out.Set("body", value.Bytes(buf.Bytes()))
	return out, nil
}

// HTTPInvoker adapts the VM's http_request operator to tools.HTTPInvoker, so
// a restapi Tool built against this Runtime calls through the same
// operator-dispatch path a VM client would use remotely.
func (rt *Runtime) HTTPInvoker() tools.HTTPInvoker {
	return func(ctx context.Context, req tools.RESTRequest) (tools.RESTResponse, error) {
		inputs := value.NewMap()
		inputs.Set("url", value.String(req.URL))
		inputs.Set("method", value.String(req.Method))
		if req.Body != "" {
			inputs.Set("body", value.String(req.Body))
		}
		if len(req.Headers) > 0 {
			headers := value.NewMap()
			for k, v := range req.Headers {
				headers.Set(k, value.String(v))
			}
			inputs.Set("headers", headers)
		}

		out, err := rt.VM.Call(ctx, "http_request", inputs)
		if err != nil {
			return tools.RESTResponse{}, err
		}

		resp := tools.RESTResponse{}
		if sc, ok := out.Get("status_code"); ok {
			if n, err := sc.Int(); err == nil {
				resp.StatusCode = int(n)
			}
		}
		if h, ok := out.Get("headers"); ok {
			if entries, err := h.MapEntries(); err == nil {
				resp.Headers = make(map[string]string, len(entries))
				for _, kv := range entries {
					if s, err := kv.Val.String(); err == nil {
						resp.Headers[kv.Key] = s
					}
				}
			}
		}
		if b, ok := out.Get("body"); ok {
			if raw, err := b.Bytes(); err == nil {
				resp.Body = raw
			}
		}
		return resp, nil
	}
}

// OperatorInvoker adapts the Runtime's VM.Call to tools.OperatorInvoker, for
// builtin tools that reference a VM operator by name.
func (rt *Runtime) OperatorInvoker() tools.OperatorInvoker {
	return rt.VM.Call
}
