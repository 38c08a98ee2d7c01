package payloadschema

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"horse.fit/eventmerge/internal/events"
)

//go:embed candidate_event.schema.json
var candidateEventSchemaJSON string

const schemaName = "candidate_event.schema.json"

// MaxBatchSize bounds the number of payloads accepted in one batch document.
const MaxBatchSize = 5000

var ErrBatchTooLarge = errors.New("batch exceeds maximum size")

var (
	compileOnce       sync.Once
	compiledSchema    *jsonschema.Schema
	compiledSchemaErr error
)

// Rejection describes one payload of a batch that failed validation.
type Rejection struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// ValidateCandidatePayload checks one payload against the candidate schema and
// decodes it. Title and start date are typed here but enforced by the engine,
// so a payload without them still decodes.
func ValidateCandidatePayload(payload json.RawMessage) (*events.CandidateEvent, error) {
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

	var candidate events.CandidateEvent
	if err := json.Unmarshal(normalized, &candidate); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	if strings.TrimSpace(candidate.SourceID) == "" {
		return nil, fmt.Errorf("source_id must not be empty")
	}
	return &candidate, nil
}

// SplitBatch accepts either a JSON array of payloads or an object with an
// "events" array and returns the raw payloads in order.
func SplitBatch(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("batch is empty")
	}

	var items []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("decode batch array: %w", err)
		}
	case '{':
		var envelope struct {
			Events []json.RawMessage `json:"events"`
		}
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("decode batch object: %w", err)
		}
		if envelope.Events == nil {
			return nil, fmt.Errorf("batch object has no events array")
		}
		items = envelope.Events
	default:
		return nil, fmt.Errorf("batch must be a JSON array or an object with an events array")
	}

	if len(items) > MaxBatchSize {
		return nil, fmt.Errorf("%w: %d payloads, limit %d", ErrBatchTooLarge, len(items), MaxBatchSize)
	}
	return items, nil
}

// ValidatedBatch holds the candidates that passed validation in batch order.
// Positions[i] is the batch index of Candidates[i].
type ValidatedBatch struct {
	Candidates []events.CandidateEvent
	Positions  []int
	Rejections []Rejection
}

// ValidateBatch validates every payload; a failing payload never stops the rest.
func ValidateBatch(payloads []json.RawMessage) ValidatedBatch {
	out := ValidatedBatch{
		Candidates: make([]events.CandidateEvent, 0, len(payloads)),
		Positions:  make([]int, 0, len(payloads)),
	}
	for i, payload := range payloads {
		candidate, err := ValidateCandidatePayload(payload)
		if err != nil {
			out.Rejections = append(out.Rejections, Rejection{Index: i, Error: err.Error()})
			continue
		}
		out.Candidates = append(out.Candidates, *candidate)
		out.Positions = append(out.Positions, i)
	}
	return out
}

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.Draft = jsonschema.Draft2020
		compiler.AssertFormat = true

		if err := compiler.AddResource(schemaName, strings.NewReader(candidateEventSchemaJSON)); err != nil {
			compiledSchemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}

		schema, err := compiler.Compile(schemaName)
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
