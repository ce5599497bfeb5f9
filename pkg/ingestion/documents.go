package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const partitionLayout = "2006-01-02"

var (
	errEmptyFile       = errors.New("empty file")
	errUnsupportedJSON = errors.New("top-level JSON must be an object or an array of objects")
)

// SourceError marks a raw file or document that cannot be used. Source errors
// skip the offending unit and never abort a run.
type SourceError struct {
	Key    string
	reason error
}

func (e SourceError) Error() string {
	if e.Key == "" {
		return e.reason.Error()
	}
	return fmt.Sprintf("%s: %v", e.Key, e.reason)
}

func (e SourceError) Unwrap() error {
	return e.reason
}

func NewSourceError(key string, reason error) error {
	return SourceError{Key: key, reason: reason}
}

func IsSourceError(err error) bool {
	var se SourceError
	return errors.As(err, &se)
}

// IngestionDate derives the partition key from a `YYYY-MM-DD/...` object key,
// falling back to the processing date.
func IngestionDate(key string, fallback time.Time) string {
	first := key
	if idx := strings.Index(key, "/"); idx >= 0 {
		first = key[:idx]
	}
	if parsed, err := time.Parse(partitionLayout, first); err == nil {
		return parsed.Format(partitionLayout)
	}
	return fallback.UTC().Format(partitionLayout)
}

// DecodeDocuments splits a raw file into one canonical JSON payload per
// document. Array elements that are not objects are dropped and counted.
func DecodeDocuments(key string, body []byte) ([]json.RawMessage, int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, 0, NewSourceError(key, errEmptyFile)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var root interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, 0, NewSourceError(key, fmt.Errorf("decode: %w", err))
	}
	if dec.More() {
		return nil, 0, NewSourceError(key, errors.New("trailing data after JSON value"))
	}

	var items []interface{}
	switch v := root.(type) {
	case map[string]interface{}:
		items = []interface{}{v}
	case []interface{}:
		items = v
	default:
		return nil, 0, NewSourceError(key, errUnsupportedJSON)
	}

	docs := make([]json.RawMessage, 0, len(items))
	skipped := 0
	for _, item := range items {
		obj, ok := item.(map[string]interface{})
		if !ok {
			skipped++
			continue
		}
		encoded, err := json.Marshal(obj)
		if err != nil {
			skipped++
			continue
		}
		docs = append(docs, encoded)
	}
	return docs, skipped, nil
}

func isJSONKey(key string) bool {
	return strings.HasSuffix(strings.ToLower(key), ".json")
}
