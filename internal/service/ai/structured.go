package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var errNoJSONObject = errors.New("no JSON object in model output")

// structuredInstruction tells a model without native schema support how to answer.
func structuredInstruction(s Schema) string {
	var b strings.Builder
	b.WriteString("Respond with a single JSON object that matches the following JSON schema")
	if s.Name != "" {
		b.WriteString(" (")
		b.WriteString(s.Name)
		b.WriteString(")")
	}
	b.WriteString(". Do not add any text before or after the JSON object.\n")
	b.Write(s.Definition)
	return b.String()
}

// decodeStructured extracts the outermost JSON object from raw and decodes it into out.
func decodeStructured(raw string, out any) error {
	trimmed := strings.TrimSpace(raw)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return errNoJSONObject
	}

	if err := json.Unmarshal([]byte(trimmed[start:end+1]), out); err != nil {
		return fmt.Errorf("decode structured output: %w", err)
	}
	return nil
}
