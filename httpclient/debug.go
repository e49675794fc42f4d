package httpclient

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// debugLogger is used by WithDebug when no logger was supplied.
var debugLogger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// generateCurlCommand renders req as a cURL command line. Headers are
// sorted and values are not redacted.
//
//	curl -X POST 'https://api.example.com/users' \
//	  -H 'Content-Type: application/json' \
//	  -d '{"name":"John"}'
func generateCurlCommand(req *http.Request, body []byte) string {
	parts := []string{"curl"}

	if req.Method != http.MethodGet {
		parts = append(parts, "-X", req.Method)
	}
	parts = append(parts, quoteShell(req.URL.String()))

	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range req.Header[k] {
			parts = append(parts, "-H", quoteShell(fmt.Sprintf("%s: %s", k, v)))
		}
	}

	if len(body) > 0 {
		parts = append(parts, "-d", quoteShell(string(body)))
	}

	return strings.Join(parts, " ")
}

func quoteShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// logCurl writes the outgoing request as a cURL command when debugging.
func logCurl(logger zerolog.Logger, id string, req *http.Request, body []byte) {
	logger.Debug().
		Str("request_id", id).
		Str("curl", generateCurlCommand(req, body)).
		Msg("outgoing request")
}
