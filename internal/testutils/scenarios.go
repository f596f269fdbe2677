//go:build test

package testutils

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadScenarios reads a YAML file relative to the calling package and
// unmarshals its "test_cases" array.
func LoadScenarios[T any](relPath string) ([]T, error) {
	data, err := os.ReadFile(filepath.Clean(relPath))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	return ParseScenarios[T](string(data))
}

// ParseScenarios dedents inline YAML and unmarshals its "test_cases" array.
func ParseScenarios[T any](content string) ([]T, error) {
	var scenario struct {
		TestCases []T `yaml:"test_cases"`
	}
	if err := yaml.Unmarshal([]byte(Dedent(content)), &scenario); err != nil {
		return nil, fmt.Errorf("failed to parse test cases: %w", err)
	}
	return scenario.TestCases, nil
}

// Dedent strips the common leading indentation so YAML can be written
// inline in Go raw strings. Tabs count as four spaces.
func Dedent(s string) string {
	const tabWidth = 4
	s = strings.ReplaceAll(s, "\t", strings.Repeat(" ", tabWidth))
	lines := strings.Split(s, "\n")

	minIndent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		indent := len(line) - len(strings.TrimLeft(line, " "))
		if minIndent == -1 || indent < minIndent {
			minIndent = indent
		}
	}
	if minIndent <= 0 {
		return s
	}

	for i, line := range lines {
		if len(line) >= minIndent {
			lines[i] = line[minIndent:]
		} else {
			lines[i] = strings.TrimLeft(line, " ")
		}
	}
	return strings.Join(lines, "\n")
}

// ParseHex decodes "0A 1b 2c", "0a1b2c" or "0a:1b:2c" into bytes.
func ParseHex(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "-", "", "\n", "").Replace(s)
	return hex.DecodeString(clean)
}

// MustParseHex is ParseHex for fixtures.
func MustParseHex(s string) []byte {
	b, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return b
}
