package runtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ailoy/internal/aerr"
	"ailoy/internal/config"
	"ailoy/internal/tools"
	"ailoy/internal/value"
)

func testRuntime(t *testing.T, cfg config.Config) *Runtime {
	t.Helper()
	cfg.CacheRoot = t.TempDir()
	if cfg.ModelsURL == "" {
		cfg.ModelsURL = "http://unused.invalid"
	}
	rt, err := New(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestHTTPRequestOperator_RoundTripsMethodHeadersAndBody(t *testing.T) {
	var gotMethod, gotHeader, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Test")
		raw, _ := io.ReadAll(r.Body)
		gotBody = string(raw)
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	rt := testRuntime(t, config.Config{})

	inputs := value.NewMap()
	inputs.Set("url", value.String(srv.URL))
	inputs.Set("method", value.String("post"))
	inputs.Set("body", value.String(`{"x":1}`))
	headers := value.NewMap()
	headers.Set("X-Test", value.String("hello"))
	inputs.Set("headers", headers)

	out, err := rt.VM.Call(context.Background(), "http_request", inputs)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "hello", gotHeader)
	assert.Equal(t, `{"x":1}`, gotBody)

	sc, ok := out.Get("status_code")
	require.True(t, ok, "missing status_code")
	n, err := sc.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(http.StatusCreated), n)

	body, ok := out.Get("body")
	require.True(t, ok, "missing body")
	b, err := body.Bytes()
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(b))
}

func TestHTTPRequestOperator_MissingURLIsValidationError(t *testing.T) {
	rt := testRuntime(t, config.Config{})
	_, err := rt.VM.Call(context.Background(), "http_request", value.NewMap())
	assert.Equal(t, aerr.Validation, aerr.KindOf(err))
}

func TestHTTPInvoker_AdaptsRESTRequestThroughOperator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	rt := testRuntime(t, config.Config{})
	invoke := rt.HTTPInvoker()
	resp, err := invoke(context.Background(), tools.RESTRequest{URL: srv.URL, Method: "GET"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", string(resp.Body))
}

func TestRegisterComponentTypes_RemoteProviderMissingAPIKeyIsValidationError(t *testing.T) {
	rt := testRuntime(t, config.Config{})
	err := rt.VM.Define("openai", "c1", value.Null())
	assert.Equal(t, aerr.Validation, aerr.KindOf(err))
}

func TestRegisterComponentTypes_RemoteProviderWithAPIKeyDefines(t *testing.T) {
	rt := testRuntime(t, config.Config{OpenAI: config.ProviderConfig{APIKey: "sk-test", Model: "gpt-test"}})
	require.NoError(t, rt.VM.Define("openai", "c1", value.Null()))
	require.NoError(t, rt.VM.Delete("c1"))
}

func TestRegisterComponentTypes_LocalModelIsNotFound(t *testing.T) {
	rt := testRuntime(t, config.Config{})
	err := rt.VM.Define("tvm_language_model", "c1", value.Null())
	assert.Equal(t, aerr.NotFound, aerr.KindOf(err))
}

func TestRegisterComponentTypes_KnowledgeStoreDefinesAndCallsMethods(t *testing.T) {
	rt := testRuntime(t, config.Config{})
	require.NoError(t, rt.VM.Define("knowledge_store", "kb1", value.Null()))
	defer rt.VM.Delete("kb1")

	inputs := value.NewMap()
	inputs.Set("id", value.String("doc-1"))
	inputs.Set("vector", value.Array(value.Float32(1), value.Float32(0)))
	_, err := rt.VM.CallMethod(context.Background(), "kb1", "upsert", inputs)
	require.NoError(t, err)

	search := value.NewMap()
	search.Set("vector", value.Array(value.Float32(1), value.Float32(0)))
	out, err := rt.VM.CallMethod(context.Background(), "kb1", "search", search)
	require.NoError(t, err)

	results, ok := out.Get("results")
	require.True(t, ok, "missing results")
	items, err := results.Array()
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
