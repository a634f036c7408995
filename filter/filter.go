// Package filter evaluates webhook filter conditions against event data.
//
// A webhook's filter conditions are expressed as a JSON Schema document; an
// event is dispatched to the webhook only when its data satisfies the schema.
package filter

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Evaluator evaluates JSON Schema predicates over event data, caching
// compiled schemas.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema // keyed by schema JSON content
}

// NewEvaluator creates a new predicate evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Matches reports whether data satisfies the filter conditions. Nil or empty
// conditions match everything. A compilation error is returned to the caller;
// a plain validation failure is reported as a non-match without error.
func (e *Evaluator) Matches(conditions map[string]any, data any) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}

	compiled, err := e.compile(conditions)
	if err != nil {
		return false, fmt.Errorf("filter compilation error: %w", err)
	}

	if err := compiled.Validate(data); err != nil {
		return false, nil
	}
	return true, nil
}

// compile returns a compiled schema, using the cache for previously-seen schemas.
func (e *Evaluator) compile(conditions map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(conditions)
	if err != nil {
		return nil, fmt.Errorf("marshal conditions: %w", err)
	}
	key := string(raw)

	e.mu.RLock()
	if cached, ok := e.cache[key]; ok {
		e.mu.RUnlock()
		return cached, nil
	}
	e.mu.RUnlock()

	// Parse the schema JSON into an any value for the compiler.
	var doc any
	if unmarshalErr := json.Unmarshal(raw, &doc); unmarshalErr != nil {
		return nil, fmt.Errorf("unmarshal conditions: %w", unmarshalErr)
	}

	// Use a unique URL as the schema resource identifier.
	url := "hooks://filter/" + sanitizeKey(key)

	c := jsonschema.NewCompiler()
	if addErr := c.AddResource(url, doc); addErr != nil {
		return nil, fmt.Errorf("add schema resource: %w", addErr)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile conditions: %w", err)
	}

	e.mu.Lock()
	e.cache[key] = compiled
	e.mu.Unlock()

	return compiled, nil
}

// sanitizeKey creates a safe URL path segment from a schema key.
func sanitizeKey(key string) string {
	r := strings.NewReplacer(
		`"`, "",
		`{`, "",
		`}`, "",
		` `, "_",
		`:`, "",
	)
	s := r.Replace(key)
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}
