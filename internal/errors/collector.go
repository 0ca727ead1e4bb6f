package errors

import (
	"fmt"
	"strings"
	"sync"
)

// MaxErrors is the maximum number of errors to collect before dropping
const MaxErrors = 100

// Collector accumulates errors across a stage without short-circuiting.
// It is safe for concurrent use.
type Collector struct {
	mu       sync.Mutex
	errors   []EngineError
	warnings []EngineError
	maxCount int
}

// NewCollector creates a new Collector
func NewCollector() *Collector {
	return NewCollectorWithMax(MaxErrors)
}

// NewCollectorWithMax creates a new Collector with a custom max count
func NewCollectorWithMax(maxCount int) *Collector {
	return &Collector{maxCount: maxCount}
}

// Add records an error
func (c *Collector) Add(err EngineError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err.IsWarning() || err.Severity == Info {
		c.warnings = append(c.warnings, err)
		return
	}
	if len(c.errors) >= c.maxCount {
		return
	}
	c.errors = append(c.errors, err)
}

// AddAll records several errors
func (c *Collector) AddAll(errs []EngineError) {
	for _, err := range errs {
		c.Add(err)
	}
}

// HasErrors returns true if there are any errors (not just warnings)
func (c *Collector) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors) > 0
}

// Errors returns a copy of the collected errors
func (c *Collector) Errors() []EngineError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EngineError(nil), c.errors...)
}

// Warnings returns a copy of the collected warnings
func (c *Collector) Warnings() []EngineError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]EngineError(nil), c.warnings...)
}

// All returns errors followed by warnings
func (c *Collector) All() []EngineError {
	c.mu.Lock()
	defer c.mu.Unlock()
	all := make([]EngineError, 0, len(c.errors)+len(c.warnings))
	all = append(all, c.errors...)
	return append(all, c.warnings...)
}

// ByCode returns errors and warnings with a specific code
func (c *Collector) ByCode(code string) []EngineError {
	var result []EngineError
	for _, e := range c.All() {
		if e.Code == code {
			result = append(result, e)
		}
	}
	return result
}

// ByRole returns errors and warnings located at role
func (c *Collector) ByRole(role string) []EngineError {
	var result []EngineError
	for _, e := range c.All() {
		if e.Location.Role == role {
			result = append(result, e)
		}
	}
	return result
}

// Err returns the collector as an error, or nil when no errors were added
func (c *Collector) Err() error {
	if !c.HasErrors() {
		return nil
	}
	return c
}

// Error implements the error interface
func (c *Collector) Error() string {
	errs := c.Errors()
	warns := c.Warnings()
	switch {
	case len(errs) == 0 && len(warns) == 0:
		return "no errors"
	case len(errs) == 1 && len(warns) == 0:
		return errs[0].Error()
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d error(s) and %d warning(s): %s", len(errs), len(warns), strings.Join(msgs, "; "))
}

// Unwrap exposes the collected errors to errors.Is and errors.As
func (c *Collector) Unwrap() []error {
	errs := c.Errors()
	out := make([]error, len(errs))
	for i, e := range errs {
		out[i] = e
	}
	return out
}

// FormatForTerminal formats all errors for terminal output
func (c *Collector) FormatForTerminal() string {
	var sb strings.Builder
	all := c.All()
	for i, e := range all {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(e.FormatForTerminal())
	}
	if len(all) > 0 {
		sb.WriteString(FormatSummary(len(c.Errors()), len(c.Warnings())))
	}
	return sb.String()
}

// FormatAsJSON formats all errors as JSON
func (c *Collector) FormatAsJSON() (string, error) {
	return FormatErrorsAsJSON(c.All())
}
