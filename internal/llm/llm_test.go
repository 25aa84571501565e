package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildPrompt(t *testing.T) {
	t.Run("system prompt specifies finding fields", func(t *testing.T) {
		system, user := buildPrompt("ERROR footer.html: copyright year is 2023")

		assert.Contains(t, system, "JSON array")
		assert.Contains(t, system, `"title"`)
		assert.Contains(t, system, `"description"`)
		assert.Contains(t, system, `"source_url"`)
		assert.Contains(t, system, `"manual_instructions"`)

		assert.Contains(t, user, "copyright year is 2023")
	})

	t.Run("raw output passed through verbatim", func(t *testing.T) {
		raw := strings.Repeat("x", 10000)
		_, user := buildPrompt(raw)
		assert.Contains(t, user, raw)
	})
}

func TestStripFencing(t *testing.T) {
	t.Run("plain json untouched", func(t *testing.T) {
		assert.Equal(t, `[{"title":"a"}]`, stripFencing(`[{"title":"a"}]`))
	})

	t.Run("fenced with language tag", func(t *testing.T) {
		in := "```json\n[{\"title\":\"a\"}]\n```"
		assert.Equal(t, `[{"title":"a"}]`, stripFencing(in))
	})

	t.Run("fenced without language tag", func(t *testing.T) {
		in := "```\n[]\n```"
		assert.Equal(t, "[]", stripFencing(in))
	})

	t.Run("surrounding whitespace trimmed", func(t *testing.T) {
		assert.Equal(t, "[]", stripFencing("  \n[]\n  "))
	})
}
