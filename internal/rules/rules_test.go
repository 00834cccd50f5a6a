package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRuleSet_ParsesAndCompiles(t *testing.T) {
	rs, err := DefaultRuleSet()
	require.NoError(t, err)
	assert.NotEmpty(t, rs.Rules)
	assert.NotEmpty(t, rs.PositiveSignals)

	_, err = NewEngine(rs)
	require.NoError(t, err)
}

func TestLoadRuleSet_EmptyPathReturnsDefault(t *testing.T) {
	rs, err := LoadRuleSet("")
	require.NoError(t, err)
	def, err := DefaultRuleSet()
	require.NoError(t, err)
	assert.Equal(t, def, rs)
}

func TestLoadRuleSet_CustomFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	content := `
positive_signals:
  - apply
rules:
  - name: only-rule
    category: informational-no-mechanism
    field: title
    pattern: 'newsletter'
    reason: "newsletter title ({match})"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rs, err := LoadRuleSet(path)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, "only-rule", rs.Rules[0].Name)
}

func TestLoadRuleSet_MissingFile(t *testing.T) {
	_, err := LoadRuleSet(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestParseRuleSet_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no rules", "positive_signals: [apply]\n"},
		{"missing name", "rules:\n  - category: x\n    field: title\n    pattern: a\n    reason: r\n"},
		{"missing pattern", "rules:\n  - name: r1\n    field: title\n    reason: r\n"},
		{"unknown field", "rules:\n  - name: r1\n    field: footer\n    pattern: a\n    reason: r\n"},
		{"missing reason", "rules:\n  - name: r1\n    field: title\n    pattern: a\n"},
		{"invalid yaml", "rules: [unclosed\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRuleSet([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}
