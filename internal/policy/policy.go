// Package policy decides which remote images the service is allowed to fetch.
//
// Each rule is an expr-lang boolean expression evaluated against the parts of
// the source URL, for example:
//
//	scheme == "https" && host endsWith ".example.com"
//
// A source is allowed if any of the rules evaluates to true. A policy without
// rules allows everything.
package policy

import (
	"net/url"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	errs "github.com/jmgilman/go/errors"
)

type Env struct {
	URL    string `expr:"url"`
	Scheme string `expr:"scheme"`
	Host   string `expr:"host"`
	Path   string `expr:"path"`
}

type Rule struct {
	expression string
	program    *vm.Program
}

type Policy struct {
	rules []Rule
}

func NewRule(expression string) (Rule, error) {
	program, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return Rule{}, errs.Wrapf(err, errs.CodeInvalidConfig, "failed to compile source rule %q",
			expression)
	}

	return Rule{
		expression: expression,
		program:    program,
	}, nil
}

func New(expressions ...string) (*Policy, error) {
	policy := &Policy{}

	for _, expression := range expressions {
		rule, err := NewRule(expression)
		if err != nil {
			return nil, err
		}

		policy.rules = append(policy.rules, rule)
	}

	return policy, nil
}

func (policy *Policy) Len() int {
	if policy == nil {
		return 0
	}

	return len(policy.rules)
}

// Check returns nil when the source is allowed and a FORBIDDEN error otherwise.
func (policy *Policy) Check(source *url.URL) error {
	if policy.Len() == 0 {
		return nil
	}

	env := Env{
		URL:    source.String(),
		Scheme: source.Scheme,
		Host:   source.Hostname(),
		Path:   source.Path,
	}

	for _, rule := range policy.rules {
		result, err := expr.Run(rule.program, env)
		if err != nil {
			return errs.Wrapf(err, errs.CodeInternal, "failed to evaluate source rule %q",
				rule.expression)
		}

		//nolint:forcetypeassert // guaranteed by expr.AsBool() at compile time
		if result.(bool) {
			return nil
		}
	}

	return errs.WithContext(errs.Newf(errs.CodeForbidden, "source %s is not allowed", source.Redacted()),
		"host", env.Host)
}
