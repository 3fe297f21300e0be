// Package scripts holds the JavaScript evaluated in managed pages. Each
// script is a function expression.
package scripts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
)

// Helper defines the resource and element lookup functions the worker calls
// into.
//
//go:embed helper.js
var Helper string

//go:embed page.js
var defaultInstrumentation string

// LoadInstrumentation returns the page instrumentation script at path, or
// the built-in one when path is empty.
func LoadInstrumentation(path string) (string, error) {
	if path == "" {
		return defaultInstrumentation, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read page script: %w", err)
	}
	script := strings.TrimSpace(string(data))
	if script == "" {
		return "", fmt.Errorf("page script %s is empty", path)
	}
	return script, nil
}
