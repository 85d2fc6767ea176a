package wire

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// RequestSchema is the JSON schema (draft-07) every inbound request must match
// before a provider looks at it.
const RequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["requestID", "operationType", "propertyPath", "args"],
  "properties": {
    "type": {"type": "string", "enum": ["request"]},
    "requestID": {"type": "string", "minLength": 1},
    "consumerID": {"type": "string"},
    "realmID": {"type": "string"},
    "operationType": {"type": "string", "minLength": 1},
    "propertyPath": {"type": "string"},
    "args": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {"type": {"type": "string", "minLength": 1}}
      }
    }
  }
}`

// ResponseSchema is the JSON schema every inbound response must match before a
// consumer settles a pending call with it.
const ResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type", "requestID", "resultType"],
  "properties": {
    "type": {"type": "string", "enum": ["response"]},
    "requestID": {"type": "string", "minLength": 1},
    "resultType": {"type": "string", "enum": ["result", "error"]},
    "providerID": {"type": "string"},
    "consumerID": {"type": "string"}
  }
}`

var (
	schemaOnce     sync.Once
	requestSchema  *gojsonschema.Schema
	responseSchema *gojsonschema.Schema
	schemaErr      error
)

func compileSchemas() {
	requestSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(RequestSchema))
	if schemaErr != nil {
		return
	}
	responseSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(ResponseSchema))
}

// DecodeRequest validates the shape of an inbound request and decodes it.
// Shape failures are reported as E003.
func DecodeRequest(data []byte) (*Request, error) {
	if err := validate(data, func() *gojsonschema.Schema { return requestSchema }); err != nil {
		return nil, NewProtocolErrorf(CodeMalformedRequest, "%v", err)
	}
	var req Request
	if err := Unmarshal(data, &req); err != nil {
		return nil, NewProtocolErrorf(CodeMalformedRequest, "%v", err)
	}
	return &req, nil
}

// DecodeResponse validates the shape of an inbound response and decodes it.
func DecodeResponse(data []byte) (*Response, error) {
	if err := validate(data, func() *gojsonschema.Schema { return responseSchema }); err != nil {
		return nil, err
	}
	var resp Response
	if err := Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func validate(data []byte, pick func() *gojsonschema.Schema) error {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return fmt.Errorf("compile envelope schema: %w", schemaErr)
	}

	var doc any
	if err := Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	// Payload values are opaque to the schema and may hold binary data.
	if m, ok := doc.(map[string]any); ok {
		delete(m, "result")
		if args, ok := m["args"].([]any); ok {
			for _, a := range args {
				if am, ok := a.(map[string]any); ok {
					delete(am, "value")
				}
			}
		}
	}

	result, err := pick().Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validate envelope: %w", err)
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return fmt.Errorf("invalid envelope: %s", strings.Join(details, "; "))
	}
	return nil
}
