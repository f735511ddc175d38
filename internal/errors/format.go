package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatForUser returns a user-friendly error message. If debug is true,
// includes additional technical details.
func FormatForUser(err error, debug bool) string {
	if err == nil {
		return ""
	}

	ie, ok := err.(*IndexError)
	if !ok {
		return err.Error()
	}

	var sb strings.Builder

	sb.WriteString("Error: ")
	sb.WriteString(ie.Message)
	sb.WriteString("\n")

	if ie.Suggestion != "" {
		sb.WriteString("\nSuggestion: ")
		sb.WriteString(ie.Suggestion)
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("\n[%s/%d]", ie.Category, ie.Code()))

	return sb.String()
}

// FormatForCLI formats an error for CLI output. Uses a concise format
// suitable for terminal display.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	ie, ok := err.(*IndexError)
	if !ok {
		ie = Internal(err.Error(), err)
	}

	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Error: %s\n", ie.Message))

	if ie.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", ie.Suggestion))
	}

	sb.WriteString(fmt.Sprintf("  Code: %s (%d)\n", ie.Category, ie.Code()))

	return sb.String()
}

// jsonError is the JSON representation of an error.
type jsonError struct {
	Code       int               `json:"code"`
	Category   string            `json:"category"`
	Message    string            `json:"message"`
	Severity   string            `json:"severity"`
	Details    map[string]string `json:"details,omitempty"`
	Suggestion string            `json:"suggestion,omitempty"`
	Cause      string            `json:"cause,omitempty"`
	Retryable  bool              `json:"retryable"`
}

// FormatJSON returns a JSON representation of the error, suitable for the
// MCP error payload and structured logging.
func FormatJSON(err error) ([]byte, error) {
	if err == nil {
		return json.Marshal(nil)
	}

	ie, ok := err.(*IndexError)
	if !ok {
		ie = Internal(err.Error(), err)
	}

	je := jsonError{
		Code:       ie.Code(),
		Category:   string(ie.Category),
		Message:    ie.Message,
		Severity:   string(ie.Severity),
		Details:    ie.Details,
		Suggestion: ie.Suggestion,
		Retryable:  ie.Retryable,
	}

	if ie.Cause != nil {
		je.Cause = ie.Cause.Error()
	}

	return json.Marshal(je)
}

// FormatForLog formats an error for structured logging as slog attributes.
func FormatForLog(err error) map[string]any {
	if err == nil {
		return nil
	}

	ie, ok := err.(*IndexError)
	if !ok {
		return map[string]any{
			"error": err.Error(),
		}
	}

	result := map[string]any{
		"error_code": ie.Code(),
		"category":   string(ie.Category),
		"message":    ie.Message,
		"severity":   string(ie.Severity),
		"retryable":  ie.Retryable,
	}

	if ie.Cause != nil {
		result["cause"] = ie.Cause.Error()
	}

	if ie.Suggestion != "" {
		result["suggestion"] = ie.Suggestion
	}

	for k, v := range ie.Details {
		result["detail_"+k] = v
	}

	return result
}
