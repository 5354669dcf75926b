package collector

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
	"github.com/pkg/errors"

	"github.com/webential/deskrouter/engine/corpus"
)

// ValidationFailure is a user-correctable slot rejection. It is surfaced as a
// re-prompt, never as a transport error.
type ValidationFailure struct {
	SlotKey string
	Message string
}

func (e *ValidationFailure) Error() string {
	return fmt.Sprintf("slot %s: %s", e.SlotKey, e.Message)
}

// Validator checks and normalizes one raw slot answer.
type Validator interface {
	Validate(raw string) (string, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(raw string) (string, error)

func (f ValidatorFunc) Validate(raw string) (string, error) {
	return f(raw)
}

var emailPattern = regexp.MustCompile(`^[\w\.-]+@[\w\.-]+\.\w+$`)

// severityLevels is the canonical ordering; matching is case-insensitive and
// the stored value is the canonical casing.
var severityLevels = []string{"Low", "Medium", "High", "Critical"}

func nonemptyValidator(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", errors.New("a non-empty answer is required")
	}
	return v, nil
}

func emailValidator(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if !emailPattern.MatchString(v) {
		return "", errors.New("that does not look like an email address")
	}
	return strings.ToLower(v), nil
}

func severityValidator(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	for _, level := range severityLevels {
		if strings.EqualFold(v, level) {
			return level, nil
		}
	}
	return "", errors.Errorf("severity must be one of %s", strings.Join(severityLevels, ", "))
}

func choiceValidator(choices []string) ValidatorFunc {
	return func(raw string) (string, error) {
		v := strings.TrimSpace(raw)
		for _, c := range choices {
			if strings.EqualFold(v, c) {
				return c, nil
			}
		}
		return "", errors.Errorf("answer must be one of %s", strings.Join(choices, ", "))
	}
}

// celValidator evaluates a compiled CEL program with the raw answer bound to
// `value`. A bool result accepts or rejects the trimmed answer; a string
// result accepts and replaces it with the normalized form.
type celValidator struct {
	program cel.Program
}

func newCELValidator(expr string) (*celValidator, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.StringType),
		ext.Strings(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "compile validator expression %q", expr)
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build validator program")
	}
	return &celValidator{program: program}, nil
}

func (v *celValidator) Validate(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	out, _, err := v.program.Eval(map[string]any{"value": trimmed})
	if err != nil {
		return "", errors.Wrap(err, "evaluate validator expression")
	}
	switch result := out.Value().(type) {
	case bool:
		if !result {
			return "", errors.New("that answer is not valid here")
		}
		return trimmed, nil
	case string:
		return result, nil
	default:
		return "", errors.Errorf("validator expression returned %T, want bool or string", result)
	}
}

// Registry resolves slot definitions to validators. CEL programs are compiled
// once per expression and reused across sessions.
type Registry struct {
	compiled map[string]*celValidator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{compiled: make(map[string]*celValidator)}
}

// For returns the validator for a slot definition. Unknown kinds fall back to
// nonempty so a misconfigured corpus degrades instead of panicking.
func (r *Registry) For(slot corpus.SlotDefinition) (Validator, error) {
	switch slot.Validator {
	case "", "nonempty":
		return ValidatorFunc(nonemptyValidator), nil
	case "email":
		return ValidatorFunc(emailValidator), nil
	case "severity":
		return ValidatorFunc(severityValidator), nil
	case "choice":
		if len(slot.Choices) == 0 {
			return nil, errors.Errorf("slot %s: choice validator requires choices", slot.Key)
		}
		return choiceValidator(slot.Choices), nil
	case "cel":
		if v, ok := r.compiled[slot.Expr]; ok {
			return v, nil
		}
		v, err := newCELValidator(slot.Expr)
		if err != nil {
			return nil, err
		}
		r.compiled[slot.Expr] = v
		return v, nil
	default:
		return ValidatorFunc(nonemptyValidator), nil
	}
}
