package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webential/deskrouter/engine/corpus"
)

func TestBuiltinValidators(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		name    string
		slot    corpus.SlotDefinition
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "nonempty trims",
			slot:  corpus.SlotDefinition{Key: "x", Validator: "nonempty"},
			input: "  hello  ",
			want:  "hello",
		},
		{
			name:    "nonempty rejects blank",
			slot:    corpus.SlotDefinition{Key: "x", Validator: "nonempty"},
			input:   "   ",
			wantErr: true,
		},
		{
			name:  "email lowercases",
			slot:  corpus.SlotDefinition{Key: "x", Validator: "email"},
			input: "Jan.Kowalski@Example.COM",
			want:  "jan.kowalski@example.com",
		},
		{
			name:    "email rejects garbage",
			slot:    corpus.SlotDefinition{Key: "x", Validator: "email"},
			input:   "not-an-email",
			wantErr: true,
		},
		{
			name:  "severity canonicalizes case",
			slot:  corpus.SlotDefinition{Key: "x", Validator: "severity"},
			input: "critical",
			want:  "Critical",
		},
		{
			name:    "severity rejects unknown level",
			slot:    corpus.SlotDefinition{Key: "x", Validator: "severity"},
			input:   "catastrophic",
			wantErr: true,
		},
		{
			name:  "choice matches case-insensitively",
			slot:  corpus.SlotDefinition{Key: "x", Validator: "choice", Choices: []string{"low", "normal", "urgent"}},
			input: "URGENT",
			want:  "urgent",
		},
		{
			name:    "choice rejects off-list",
			slot:    corpus.SlotDefinition{Key: "x", Validator: "choice", Choices: []string{"low", "normal"}},
			input:   "extreme",
			wantErr: true,
		},
		{
			name:  "unknown kind falls back to nonempty",
			slot:  corpus.SlotDefinition{Key: "x", Validator: "telepathy"},
			input: "fine",
			want:  "fine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := r.For(tt.slot)
			require.NoError(t, err)

			got, err := v.Validate(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCELValidator(t *testing.T) {
	r := NewRegistry()
	slot := corpus.SlotDefinition{
		Key:       "account_id",
		Validator: "cel",
		Expr:      `value.matches('^ACC-[0-9]{4,10}$')`,
	}

	v, err := r.For(slot)
	require.NoError(t, err)

	got, err := v.Validate("  ACC-12345 ")
	require.NoError(t, err)
	assert.Equal(t, "ACC-12345", got)

	_, err = v.Validate("ACC-1")
	assert.Error(t, err)

	_, err = v.Validate("totally wrong")
	assert.Error(t, err)
}

func TestCELValidatorNormalizing(t *testing.T) {
	r := NewRegistry()
	slot := corpus.SlotDefinition{
		Key:       "code",
		Validator: "cel",
		Expr:      `value.upperAscii()`,
	}

	v, err := r.For(slot)
	require.NoError(t, err)

	got, err := v.Validate("abc-1")
	require.NoError(t, err)
	assert.Equal(t, "ABC-1", got)
}

func TestCELValidatorCompileError(t *testing.T) {
	r := NewRegistry()
	_, err := r.For(corpus.SlotDefinition{Key: "x", Validator: "cel", Expr: "value.("})
	assert.Error(t, err)
}

func TestRegistryReusesCompiledPrograms(t *testing.T) {
	r := NewRegistry()
	slot := corpus.SlotDefinition{Key: "x", Validator: "cel", Expr: `value != ''`}

	v1, err := r.For(slot)
	require.NoError(t, err)
	v2, err := r.For(slot)
	require.NoError(t, err)
	assert.Same(t, v1, v2)
}
