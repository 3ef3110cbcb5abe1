package common

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseJSON cleans and unmarshals a JSON string into a type T.
// It handles common LLM quirks like surrounding markdown or extra text. The
// outermost value is whichever of an object or an array opens first.
func ParseJSON[T any](response string) (T, error) {
	var zero T

	jsonStr, err := extractJSON(response)
	if err != nil {
		return zero, err
	}

	var result T
	if err := json.Unmarshal([]byte(jsonStr), &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal JSON: %w\nData: %s", err, jsonStr)
	}

	return result, nil
}

func extractJSON(response string) (string, error) {
	start := strings.IndexAny(response, "{[")
	if start == -1 {
		return "", fmt.Errorf("no JSON value found in response")
	}

	closer := byte('}')
	if response[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(response, closer)
	if end < start {
		return "", fmt.Errorf("unterminated JSON value in response")
	}
	return response[start : end+1], nil
}
