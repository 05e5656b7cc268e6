package observability

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// TestWithHeaders_InjectsProviderExtraHeaders exercises the shape a remote
// provider factory actually uses: a base client wrapped with ExtraHeaders
// from config.ProviderConfig (spec §4.6), where a request-level header must
// win over the configured default.
func TestWithHeaders_InjectsProviderExtraHeaders(t *testing.T) {
	base := &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("X-Org-Id"); got != "org-ailoy" {
			t.Fatalf("extra header not injected: got %q", got)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer request-scoped" {
			t.Fatalf("request header overwritten by extra header: got %q", got)
		}
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader("ok"))}, nil
	})}

	c := WithHeaders(base, map[string]string{"X-Org-Id": "org-ailoy", "Authorization": "Bearer should-not-apply"})
	req, err := http.NewRequest(http.MethodGet, "http://example.test", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer request-scoped")
	if _, err := c.Do(req); err != nil {
		t.Fatalf("Do: %v", err)
	}
}

func TestWithHeaders_NoHeadersReturnsSameClient(t *testing.T) {
	base := &http.Client{}
	if got := WithHeaders(base, nil); got != base {
		t.Fatalf("expected same client pointer when no headers given")
	}
}

func TestNewHTTPClient_WrapsNilIntoUsableClient(t *testing.T) {
	c := NewHTTPClient(nil)
	if c == nil {
		t.Fatalf("expected non-nil client")
	}
	if c.Transport == nil {
		t.Fatalf("expected instrumented transport")
	}
}
