package observability

import (
	"encoding/json"
	"strings"
)

// sensitiveKeys covers both generic credential fields and ailoy-specific
// ones: DSNs (config.VectorStoreConfig.DSN, Config.CacheLedgerDSN) and MCP
// server bearer tokens can embed a password or token in a single string
// value. Matching looks at key names only; values are never inspected.
var sensitiveKeys = []string{
	"api_key", "apikey", "apiKey", "x-api-key", "authorization", "auth",
	"token", "access_token", "refresh_token", "bearertoken", "bearer_token",
	"password", "secret", "bearer", "dsn", "connection_string", "credential",
}

// RedactJSON takes a JSON payload (typically an echoed provider error body,
// spec §4.6/§4.7's remote HTTP call sites) and redacts values whose key
// looks like a credential, so error chains and logs never carry one.
func RedactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	redacted := redactValue(v)
	b, err := json.Marshal(redacted)
	if err != nil {
		return raw
	}
	return b
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, vv := range val {
			if isSensitiveKey(k) {
				val[k] = "[REDACTED]"
			} else {
				val[k] = redactValue(vv)
			}
		}
		return val
	case []any:
		for i := range val {
			val[i] = redactValue(val[i])
		}
		return val
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	low := strings.ToLower(k)
	for _, s := range sensitiveKeys {
		if low == s {
			return true
		}
		if strings.Contains(low, s) {
			return true
		}
	}
	return false
}
