package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeIdentifiers(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  []string
	}{
		{"camelCase", "getUserById", []string{"get", "user", "by", "id"}},
		{"snake_case", "parse_http_request", []string{"parse", "http", "request"}},
		{"acronym run", "HTTPHandler", []string{"http", "handler"}},
		{"mixed", "parseHTTPRequest", []string{"parse", "http", "request"}},
		{"short tokens dropped", "a b cd", []string{"cd"}},
		{"punctuation split", "foo.bar(baz)", []string{"foo", "bar", "baz"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tokenizeIdentifiers(tc.input))
		})
	}
}

func TestSplitCamel(t *testing.T) {
	assert.Equal(t, []string{"get", "User", "By", "Id"}, splitCamel("getUserById"))
	assert.Equal(t, []string{"HTTP", "Handler"}, splitCamel("HTTPHandler"))
	assert.Empty(t, splitCamel(""))
}

func TestClampTopK(t *testing.T) {
	assert.Equal(t, DefaultTopK, clampTopK(0))
	assert.Equal(t, DefaultTopK, clampTopK(-5))
	assert.Equal(t, 25, clampTopK(25))
	assert.Equal(t, MaxTopK, clampTopK(10_000))
}

func TestSearchFiltersMatch(t *testing.T) {
	var nilFilters *SearchFilters
	assert.True(t, nilFilters.empty())

	f := &SearchFilters{PathGlobs: []string{"*.py"}}
	assert.True(t, MatchesAnyGlob(f.PathGlobs, "pkg/auth.py"), "extension glob matches base name")
	assert.False(t, MatchesAnyGlob(f.PathGlobs, "pkg/auth.go"))

	nested := &SearchFilters{PathGlobs: []string{"internal/*/handler.go"}}
	assert.True(t, MatchesAnyGlob(nested.PathGlobs, "internal/api/handler.go"))
	assert.False(t, MatchesAnyGlob(nested.PathGlobs, "internal/handler.go"))
}
