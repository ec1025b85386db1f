package recordschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed accident_record.schema.json
var accidentRecordSchemaJSON string

// AccidentRecord is one structured extraction from a single published
// source, produced upstream. The fields mapping is owned upstream and
// treated as opaque apart from the identity-relevant keys.
type AccidentRecord struct {
	PayloadVersion string         `json:"payload_version"`
	RecordID       string         `json:"record_id"`
	SourceURL      string         `json:"source_url"`
	ExtractedAt    string         `json:"extracted_at"`
	Confidence     float64        `json:"extraction_confidence"`
	Fields         map[string]any `json:"fields"`
}

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

func ValidateAccidentRecordPayload(payload json.RawMessage) (*AccidentRecord, error) {
	value, err := decodeStrictJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload JSON: %w", err)
	}

	schema, err := loadSchema()
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	if err := schema.Validate(value); err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	normalized, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize payload JSON: %w", err)
	}

	var record AccidentRecord
	if err := json.Unmarshal(normalized, &record); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if err := validateSemantics(&record); err != nil {
		return nil, err
	}

	return &record, nil
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource("accident_record.schema.json", strings.NewReader(accidentRecordSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile("accident_record.schema.json")
		if err != nil {
			compiledSchemaErr = fmt.Errorf("compile schema: %w", err)
			return
		}

		compiledSchema = schema
	})

	if compiledSchemaErr != nil {
		return nil, compiledSchemaErr
	}
	if compiledSchema == nil {
		return nil, fmt.Errorf("schema not initialized")
	}
	return compiledSchema, nil
}

func decodeStrictJSON(raw []byte) (any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("payload contains trailing content")
	}

	return value, nil
}

func validateSemantics(record *AccidentRecord) error {
	if record == nil {
		return fmt.Errorf("payload is nil")
	}

	if strings.TrimSpace(record.PayloadVersion) != "v1" {
		return fmt.Errorf("payload_version must be v1")
	}
	if strings.TrimSpace(record.RecordID) == "" {
		return fmt.Errorf("record_id must not be empty")
	}
	if err := validateURI("source_url", record.SourceURL); err != nil {
		return err
	}
	if _, err := time.Parse(time.RFC3339, strings.TrimSpace(record.ExtractedAt)); err != nil {
		return fmt.Errorf("extracted_at must be RFC3339: %w", err)
	}
	if record.Confidence < 0 || record.Confidence > 1 {
		return fmt.Errorf("extraction_confidence must be within [0, 1]")
	}

	return nil
}

func validateURI(fieldName, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%s must not be empty", fieldName)
	}
	if _, err := url.ParseRequestURI(trimmed); err != nil {
		return fmt.Errorf("%s is not a valid URI: %w", fieldName, err)
	}
	return nil
}
