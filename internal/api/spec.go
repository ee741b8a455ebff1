package api

import (
	_ "embed"
	"net/http"
	"strings"
)

//go:embed openapi.yaml
var openAPISpec string

// SpecHandler serves the OpenAPI document. The embedded file contains
// {oktaIssuer} placeholders so it does not pin a tenant; they are replaced
// with the configured issuer here.
func SpecHandler(oktaIssuer string) http.HandlerFunc {
	spec := []byte(strings.ReplaceAll(openAPISpec, "{oktaIssuer}", oktaIssuer))
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(spec)
	}
}
