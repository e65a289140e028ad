package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type verdict struct {
	RiskLevel string   `json:"risk_level"`
	Reasons   []string `json:"reasons"`
}

func completionServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		assert.Equal(t, "json_object", req.ResponseFormat.Type)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "user", req.Messages[0].Role)
		}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func TestCompleteJSON(t *testing.T) {
	srv := completionServer(t, http.StatusOK,
		`{"choices":[{"message":{"role":"assistant","content":"{\"risk_level\":\"High\",\"reasons\":[\"thin liquidity\"]}"}}]}`)
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", "sk-test", "gpt-4o", time.Second)
	var v verdict
	require.NoError(t, c.CompleteJSON(context.Background(), "rate this token", &v))
	assert.Equal(t, "High", v.RiskLevel)
	assert.Equal(t, []string{"thin liquidity"}, v.Reasons)
}

func TestCompleteJSONErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"non-2xx", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"empty content", http.StatusOK, `{"choices":[{"message":{"content":""}}]}`},
		{"content not json", http.StatusOK, `{"choices":[{"message":{"content":"High risk!"}}]}`},
		{"malformed envelope", http.StatusOK, `{"choices":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := completionServer(t, tt.status, tt.body)
			defer srv.Close()

			c := NewClient(srv.URL+"/v1", "sk-test", "gpt-4o", time.Second)
			var v verdict
			assert.Error(t, c.CompleteJSON(context.Background(), "prompt", &v))
		})
	}
}

func TestCompleteJSONEmptyIsSentinel(t *testing.T) {
	srv := completionServer(t, http.StatusOK, `{"choices":[]}`)
	defer srv.Close()

	c := NewClient(srv.URL+"/v1", "sk-test", "gpt-4o", time.Second)
	var v verdict
	assert.ErrorIs(t, c.CompleteJSON(context.Background(), "prompt", &v), ErrEmptyResponse)
}
