//go:build test

package testutils

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureT struct {
	failures []string
}

func (c *captureT) Errorf(format string, args ...interface{}) {
	c.failures = append(c.failures, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).Options()
	assert.True(t, opts.IgnoreExtraKeys)
	assert.True(t, opts.NilToEmptyArray)
	assert.True(t, opts.AllowPresencePlaceholder)
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Matching(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		fail     bool
	}{
		{"equal", nil, `{"bpm":72}`, `{"bpm":72}`, false},
		{"extra keys ignored", nil, `{"bpm":72,"wide":false}`, `{"bpm":72}`, false},
		{"extra keys reported", []Option{WithIgnoreExtraKeys(false)}, `{"bpm":72,"wide":false}`, `{"bpm":72}`, true},
		{"presence placeholder", nil, `{"hex":"01 02 "}`, `{"hex":"<<PRESENCE>>"}`, false},
		{"nil vs empty array", nil, `{"rr":null}`, `{"rr":[]}`, false},
		{"ignored field", []Option{WithIgnoredFields("time")}, `{"time":1,"v":2}`, `{"time":9,"v":2}`, false},
		{"value mismatch", nil, `{"bpm":71}`, `{"bpm":72}`, true},
		{"root arrays", nil, `[{"a":1},{"a":2}]`, `[{"a":1},{"a":2}]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct := &captureT{}
			newJSONAsserter(ct).WithOptions(tt.opts...).Assert(tt.actual, tt.expected)
			assert.Equal(t, tt.fail, len(ct.failures) > 0, "failures: %v", ct.failures)
		})
	}
}

func TestTextAsserter(t *testing.T) {
	ct := &captureT{}
	ta := NewTextAsserterWithInterface(ct)

	ta.Assert("line one  \nline two\n", "line one\nline two")
	assert.Empty(t, ct.failures, "trailing whitespace MUST be ignored by default")

	ta.Assert("line one\nline 2", "line one\nline two")
	require.Len(t, ct.failures, 1)
	assert.Contains(t, ct.failures[0], "-line two")
	assert.Contains(t, ct.failures[0], "+line 2")
}

func TestDedent(t *testing.T) {
	in := "\n\t\ttest_cases:\n\t\t  - name: a\n"
	out := Dedent(in)
	assert.True(t, strings.HasPrefix(strings.TrimLeft(out, "\n"), "test_cases:"))

	cases, err := ParseScenarios[struct {
		Name string `yaml:"name"`
	}](in)
	require.NoError(t, err)
	require.Len(t, cases, 1)
	assert.Equal(t, "a", cases[0].Name)
}

func TestParseHex(t *testing.T) {
	for _, in := range []string{"0a 1B 2c", "0a1b2c", "0A:1B:2C"} {
		b, err := ParseHex(in)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x0a, 0x1b, 0x2c}, b)
	}
	_, err := ParseHex("zz")
	assert.Error(t, err)
}
