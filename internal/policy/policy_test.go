package policy_test

import (
	"net/url"
	"testing"

	"github.com/cirruslabs/resizer/internal/policy"
	errs "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, rawURL string) *url.URL {
	t.Helper()

	parsedURL, err := url.Parse(rawURL)
	require.NoError(t, err)

	return parsedURL
}

func TestEmptyPolicyAllowsEverything(t *testing.T) {
	emptyPolicy, err := policy.New()
	require.NoError(t, err)
	require.Zero(t, emptyPolicy.Len())

	require.NoError(t, emptyPolicy.Check(mustParse(t, "http://anything.example.org/a.png")))

	var nilPolicy *policy.Policy

	require.NoError(t, nilPolicy.Check(mustParse(t, "http://anything.example.org/a.png")))
}

func TestAnyRuleAllows(t *testing.T) {
	sourcePolicy, err := policy.New(
		`scheme == "https" && host endsWith ".example.com"`,
		`host == "images.internal" && path startsWith "/public/"`,
	)
	require.NoError(t, err)
	require.Equal(t, 2, sourcePolicy.Len())

	require.NoError(t, sourcePolicy.Check(mustParse(t, "https://cdn.example.com/cat.jpg")))
	require.NoError(t, sourcePolicy.Check(mustParse(t, "http://images.internal:8080/public/dog.png")))

	err = sourcePolicy.Check(mustParse(t, "http://cdn.example.com/cat.jpg"))
	require.Error(t, err)
	require.Equal(t, errs.CodeForbidden, errs.GetCode(err))

	err = sourcePolicy.Check(mustParse(t, "https://evil.com/?.example.com"))
	require.Error(t, err)
	require.Equal(t, errs.CodeForbidden, errs.GetCode(err))
}

func TestInvalidRule(t *testing.T) {
	_, err := policy.New(`host ==`)
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalidConfig, errs.GetCode(err))

	// Rules must evaluate to a boolean
	_, err = policy.New(`host + "suffix"`)
	require.Error(t, err)
}
