package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "empty allow-list admits all", allowed: nil, origin: "https://anywhere.example", want: true},
		{name: "no origin header", allowed: []string{"https://app.example"}, origin: "", want: true},
		{name: "exact match", allowed: []string{"https://app.example"}, origin: "https://app.example", want: true},
		{name: "case insensitive", allowed: []string{"https://App.Example"}, origin: "https://app.example", want: true},
		{name: "path in entry ignored", allowed: []string{"https://app.example/boxes"}, origin: "https://app.example", want: true},
		{name: "port must match", allowed: []string{"http://localhost:8080"}, origin: "http://localhost:3000", want: false},
		{name: "scheme must match", allowed: []string{"https://app.example"}, origin: "http://app.example", want: false},
		{name: "other host", allowed: []string{"https://app.example"}, origin: "https://evil.example", want: false},
		{name: "garbage origin", allowed: []string{"https://app.example"}, origin: "not a url", want: false},
		{name: "whitespace in entry", allowed: []string{" https://app.example "}, origin: "https://app.example", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := NewCheckOrigin(tt.allowed)
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			assert.Equal(t, tt.want, check(req))
		})
	}
}

func TestExtractOrigin(t *testing.T) {
	assert.Equal(t, "https://app.example:8443", extractOrigin("https://App.example:8443/path?q=1"))
	assert.Empty(t, extractOrigin("app.example"))
	assert.Empty(t, extractOrigin("://"))
}
