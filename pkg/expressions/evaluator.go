package expressions

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Evaluator evaluates JMESPath expressions and caches the compiled form.
// It is safe for concurrent use.
type Evaluator struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*jmespath.JMESPath),
	}
}

// Evaluate evaluates expression against data decoded from JSON.
func (e *Evaluator) Evaluate(expression string, data any) (any, error) {
	compiled, err := e.getOrCompile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}

	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}

	return result, nil
}

// String returns the trimmed string at expression. Missing values and non-strings yield "".
func (e *Evaluator) String(expression string, data any) (string, error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return "", err
	}

	str, ok := result.(string)
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(str), nil
}

// Number returns the numeric value at expression. ok is false when the value is missing or
// is neither a JSON number nor a numeric string.
func (e *Evaluator) Number(expression string, data any) (value float64, ok bool, err error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return 0, false, err
	}

	switch v := result.(type) {
	case json.Number:
		f, parseErr := v.Float64()
		if parseErr != nil {
			return 0, false, nil
		}
		return f, true, nil
	case float64:
		return v, true, nil
	case int:
		return float64(v), true, nil
	case int64:
		return float64(v), true, nil
	case string:
		f, parseErr := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if parseErr != nil {
			return 0, false, nil
		}
		return f, true, nil
	default:
		return 0, false, nil
	}
}

// Slice returns the array at expression. ok is false when the value is missing or not an array.
func (e *Evaluator) Slice(expression string, data any) (items []any, ok bool, err error) {
	result, err := e.Evaluate(expression, data)
	if err != nil {
		return nil, false, err
	}

	slice, ok := result.([]any)
	return slice, ok, nil
}

// Validate checks if an expression compiles.
func (e *Evaluator) Validate(expression string) error {
	_, err := e.getOrCompile(expression)
	return err
}

func (e *Evaluator) getOrCompile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	if compiled, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()

	return compiled, nil
}
