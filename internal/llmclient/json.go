// internal/llmclient/json.go
package llmclient

import (
	"fmt"
	"regexp"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// A regex to robustly extract a JSON payload from a markdown code block.
var jsonBlockRegex = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// ExtractJSON pulls the JSON payload out of a model response, handling
// markdown fences, leading prose and trailing commentary. Returns the raw
// JSON string for the caller to unmarshal.
func ExtractJSON(response string) (string, error) {
	response = strings.TrimSpace(response)

	var payload string
	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		payload = strings.TrimSpace(matches[1])
	} else {
		first := strings.IndexAny(response, "{[")
		var last int
		if first != -1 && response[first] == '[' {
			last = strings.LastIndex(response, "]")
		} else {
			last = strings.LastIndex(response, "}")
		}
		if first != -1 && last > first {
			payload = response[first : last+1]
		} else {
			payload = response
		}
	}

	if payload == "" {
		return "", fmt.Errorf("no JSON found in model response")
	}
	return payload, nil
}

// DecodeJSON extracts and unmarshals the JSON payload in one step.
func DecodeJSON(response string, v any) error {
	payload, err := ExtractJSON(response)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(payload), v); err != nil {
		return fmt.Errorf("unmarshaling model response: %w", err)
	}
	return nil
}
