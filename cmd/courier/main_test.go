package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kroma-labs/courier-go/internal/httpbin"
)

func TestRun(t *testing.T) {
	server := httptest.NewServer(httpbin.New())
	t.Cleanup(server.Close)

	configPath := filepath.Join(t.TempDir(), "courier.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("client:\n  base_url: "+server.URL+"\n  params: [from=config]\n"), 0o600))

	tests := []struct {
		name       string
		args       []string
		wantCode   int
		wantStdout []string
		wantStderr string
	}{
		{
			name:       "given text, then the body is printed",
			args:       []string{"-config", configPath, "/get"},
			wantStdout: []string{`"from":"config"`, `"url":`},
		},
		{
			name:       "given json, then the document is printed compactly",
			args:       []string{"-config", configPath, "-as", "json", "/json"},
			wantStdout: []string{`"slideshow":{`},
		},
		{
			name:       "given headers, then the status line and headers are printed",
			args:       []string{"-config", configPath, "-as", "headers", "/get"},
			wantStdout: []string{"HTTP/1.1 200 OK", "Content-Type: application/json"},
		},
		{
			name:       "given a method, a header and a body, then they are sent",
			args:       []string{"-config", configPath, "-X", "post", "-H", "X-Trace: abc", "-d", "hello", "/anything"},
			wantStdout: []string{`"method":"POST"`, `"X-Trace":"abc"`, `"data":"hello"`},
		},
		{
			name:       "given a rejected status, then exit 1 with the error",
			args:       []string{"-config", configPath, "/status/404"},
			wantCode:   1,
			wantStderr: "status error (HTTP 404)",
		},
		{
			name:       "given no target, then a usage error",
			args:       []string{"-config", configPath},
			wantCode:   2,
			wantStderr: "expected exactly one path or URL",
		},
		{
			name:       "given an unknown decoder, then a usage error",
			args:       []string{"-config", configPath, "-as", "yaml", "/get"},
			wantCode:   2,
			wantStderr: `unknown decoder "yaml"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, &stdout, &stderr)

			assert.Equal(t, tt.wantCode, code, stderr.String())
			for _, want := range tt.wantStdout {
				assert.Contains(t, stdout.String(), want)
			}
			if tt.wantStderr != "" {
				assert.Contains(t, stderr.String(), tt.wantStderr)
			}
		})
	}
}
