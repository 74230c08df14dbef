package kernel

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
)

//go:embed openapi.yaml
var openapiYAML []byte

// LoadDocument parses and validates the embedded API description.
func LoadDocument(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(openapiYAML)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}
	return doc, nil
}

// validated checks the request against the documented operation before
// calling next. Multipart bodies are left to the handler.
func (s *Server) validated(method, path string, withBody bool, next http.HandlerFunc) http.HandlerFunc {
	item := s.doc.Paths.Value(path)
	if item == nil || item.GetOperation(method) == nil {
		panic(fmt.Sprintf("route %s %s is not documented", method, path))
	}
	route := &routers.Route{
		Spec:      s.doc,
		Path:      path,
		PathItem:  item,
		Method:    method,
		Operation: item.GetOperation(method),
	}

	return func(w http.ResponseWriter, r *http.Request) {
		input := &openapi3filter.RequestValidationInput{
			Request: r,
			Route:   route,
			Options: &openapi3filter.Options{ExcludeRequestBody: !withBody},
		}
		if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		next(w, r)
	}
}
