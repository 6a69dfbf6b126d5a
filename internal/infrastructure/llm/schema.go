// Package llm holds what the structuring providers share: the instruction,
// the structured document schema and its validation.
package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const SystemInstruction = `You structure OCR text from back-office documents.
Extract and structure the text into JSON. Identify the document type
(invoice, delivery_order, debit_note, credit_note, payment_record, statement, receipt or other),
the key fields and the line items.
Return strict JSON object with keys:
document_type (string), fields (object of field name to value), line_items (array of objects).
No markdown, no commentary.`

const maxTextRunes = 12000

// DocumentSchema is the JSON Schema every structured payload must satisfy.
var DocumentSchema = map[string]any{
	"$schema":  "http://json-schema.org/draft-07/schema#",
	"type":     "object",
	"required": []any{"document_type", "fields"},
	"properties": map[string]any{
		"document_type": map[string]any{"type": "string", "minLength": 1},
		"fields":        map[string]any{"type": "object"},
		"line_items": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "object"},
		},
	},
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	b, err := json.Marshal(DocumentSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("document.json", bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("document.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
})

// ValidatePayload checks raw model output against DocumentSchema.
func ValidatePayload(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("structured payload is not json: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("structured payload does not match schema: %w", err)
	}
	return nil
}

// ExtractJSONObject trims anything the model wrote around the outermost
// object.
func ExtractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		return raw[start : end+1]
	}
	return raw
}

// Snippet caps the text sent to a model.
func Snippet(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > maxTextRunes {
		runes = runes[:maxTextRunes]
	}
	return string(runes)
}

// CompactPayload validates model output and returns it as compact JSON.
func CompactPayload(content string) (json.RawMessage, error) {
	raw := []byte(ExtractJSONObject(strings.TrimSpace(content)))
	if err := ValidatePayload(raw); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, fmt.Errorf("compact structured payload: %w", err)
	}
	return json.RawMessage(buf.Bytes()), nil
}
