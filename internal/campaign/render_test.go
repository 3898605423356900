package campaign

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderRestrictedSubset(t *testing.T) {
	r := NewRenderer()
	html, err := r.Render("# Town Hall\n\n## This Friday\n\nBring **friends** and *neighbors*, __everyone__ welcome.\nDoors at 6.", nil)
	require.NoError(t, err)

	assert.Contains(t, html, "<h1>Town Hall</h1>")
	assert.Contains(t, html, "<h2>This Friday</h2>")
	assert.Contains(t, html, "<b>friends</b>")
	assert.Contains(t, html, "<i>neighbors</i>")
	assert.Contains(t, html, "<u>everyone</u>")
	assert.Contains(t, html, "Doors at 6.")
	assert.Contains(t, html, "<br>")
}

func TestRenderEscapesRawHTML(t *testing.T) {
	r := NewRenderer()
	html, err := r.Render("Hello <script>alert(1)</script>", nil)
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>")
	assert.Contains(t, html, "&lt;script&gt;")
}

func TestRenderAppliesLiquidBindings(t *testing.T) {
	r := NewRenderer()
	html, err := r.Render("Join us in {{ county }} County!", map[string]interface{}{"county": "Mercer"})
	require.NoError(t, err)
	assert.Contains(t, html, "Join us in Mercer County!")
}

func TestRenderUnsubscribePlaceholderSurvives(t *testing.T) {
	r := NewRenderer()
	html, err := r.Render("Hello", map[string]interface{}{"county": "Mercer"})
	require.NoError(t, err)

	// The envelope footer keeps the provider-filled placeholder intact
	// even though liquid ran over the body.
	assert.Equal(t, 1, strings.Count(html, "{{unsubscribe_url}}"))
}
