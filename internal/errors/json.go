package errors

import (
	"encoding/json"
)

// JSONOutput represents the JSON structure for error output
type JSONOutput struct {
	Status   string        `json:"status"`
	Errors   []EngineError `json:"errors"`
	Warnings []EngineError `json:"warnings"`
	Summary  Summary       `json:"summary"`
}

// Summary contains error and warning counts
type Summary struct {
	ErrorCount   int `json:"error_count"`
	WarningCount int `json:"warning_count"`
	TotalCount   int `json:"total_count"`
}

// FormatErrorsAsJSON formats multiple errors as JSON
func FormatErrorsAsJSON(errs []EngineError) (string, error) {
	output := NewJSONOutput(errs)
	data, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// NewJSONOutput splits errs into errors and warnings and derives a status
func NewJSONOutput(errs []EngineError) JSONOutput {
	errorList := []EngineError{}
	warningList := []EngineError{}
	for _, e := range errs {
		if e.IsError() {
			errorList = append(errorList, e)
		} else if e.IsWarning() {
			warningList = append(warningList, e)
		}
	}

	status := "success"
	if len(errorList) > 0 {
		status = "error"
	} else if len(warningList) > 0 {
		status = "warning"
	}

	return JSONOutput{
		Status:   status,
		Errors:   errorList,
		Warnings: warningList,
		Summary: Summary{
			ErrorCount:   len(errorList),
			WarningCount: len(warningList),
			TotalCount:   len(errs),
		},
	}
}
