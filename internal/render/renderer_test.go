package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSubstitutes(t *testing.T) {
	r := New()
	out, err := r.Render("Hello {{.contact_name}}, meet {{.candidate_name}}.", map[string]any{
		"contact_name":   "John",
		"candidate_name": "Ada",
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello John, meet Ada.", out)
}

func TestRenderMissingVariableFails(t *testing.T) {
	r := New()
	_, err := r.Render("Hi {{.unknown_var}}", map[string]any{"known": 1})
	require.Error(t, err, "strict mode: missing variables never render blank")
}

func TestRenderEmptySource(t *testing.T) {
	r := New()
	out, err := r.Render("", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestRenderBadSyntax(t *testing.T) {
	r := New()
	_, err := r.Render("{{.unclosed", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "template parse")
}

func TestValidateReportsMissing(t *testing.T) {
	r := New()
	missing, err := r.Validate(
		"{{.greeting}} {{.contact_name}}, about {{.role}} ({{.unknown_var}})",
		map[string]any{"contact_name": "John", "role": "SRE"},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"greeting", "unknown_var"}, missing)
}

func TestValidateAllPresent(t *testing.T) {
	r := New()
	missing, err := r.Validate("Hi {{.name}}", map[string]any{"name": "x"})
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestValidateSeesConditionals(t *testing.T) {
	r := New()
	missing, err := r.Validate(
		"{{if .premium}}VIP {{.perk}}{{else}}{{.fallback}}{{end}}",
		map[string]any{"premium": true},
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"fallback", "perk"}, missing)
}

func TestValidateIdempotent(t *testing.T) {
	r := New()
	ctx := map[string]any{"a": 1}
	first, err := r.Validate("{{.a}} {{.b}} {{.c}}", ctx)
	require.NoError(t, err)
	second, err := r.Validate("{{.a}} {{.b}} {{.c}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestRenderIdempotent(t *testing.T) {
	r := New()
	ctx := map[string]any{"name": "Ada"}
	first, err := r.Render("Hi {{.name}}", ctx)
	require.NoError(t, err)
	second, err := r.Render("Hi {{.name}}", ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCompiledTemplatesAreCached(t *testing.T) {
	r := New()
	_, err := r.Render("Hi {{.name}}", map[string]any{"name": "a"})
	require.NoError(t, err)
	_, err = r.Render("Hi {{.name}}", map[string]any{"name": "b"})
	require.NoError(t, err)
	assert.Len(t, r.cache, 1)

	_, err = r.Render("Bye {{.name}}", map[string]any{"name": "c"})
	require.NoError(t, err)
	assert.Len(t, r.cache, 2)
}
