package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAscendantPlainJSON(t *testing.T) {
	got, err := parseAscendant(`{"sign":"Лев","description":"Яркая подача себя"}`)
	require.NoError(t, err)
	assert.Equal(t, "Лев", got.Sign)
	assert.Equal(t, "Яркая подача себя", got.Description)
}

func TestParseAscendantCodeFence(t *testing.T) {
	raw := "Вот результат:\n```json\n{\"sign\": \"Весы\", \"description\": \"Гармония\"}\n```\nНадеюсь, помогло!"
	got, err := parseAscendant(raw)
	require.NoError(t, err)
	assert.Equal(t, "Весы", got.Sign)
	assert.Equal(t, "Гармония", got.Description)
}

func TestParseAscendantSurroundingText(t *testing.T) {
	raw := `Конечно! {"sign":"Овен","description":"Импульс"} — вот так.`
	got, err := parseAscendant(raw)
	require.NoError(t, err)
	assert.Equal(t, "Овен", got.Sign)
}

func TestParseAscendantTrailingComma(t *testing.T) {
	got, err := parseAscendant(`{"sign":"Рак","description":"Чувствительность",}`)
	require.NoError(t, err)
	assert.Equal(t, "Рак", got.Sign)
	assert.Equal(t, "Чувствительность", got.Description)
}

func TestParseAscendantRegexFallback(t *testing.T) {
	// Broken JSON the strict parser cannot recover; field regexes still can.
	raw := `{"sign": "Дева" "description": "Точность и порядок"}`
	got, err := parseAscendant(raw)
	require.NoError(t, err)
	assert.Equal(t, "Дева", got.Sign)
	assert.Equal(t, "Точность и порядок", got.Description)
}

func TestParseAscendantEscapedQuotes(t *testing.T) {
	raw := `{"sign": "Близнецы" "description": "Знак \"двойственности\""}`
	got, err := parseAscendant(raw)
	require.NoError(t, err)
	assert.Equal(t, `Знак "двойственности"`, got.Description)
}

func TestParseAscendantGarbage(t *testing.T) {
	_, err := parseAscendant("извини, не могу посчитать")
	assert.ErrorIs(t, err, ErrInvalidJSON)
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSONObject("prefix {\"a\":1} suffix"))
	assert.Equal(t, "", extractJSONObject("no braces here"))
	assert.Equal(t, `{"b":2}`, extractJSONObject("```json\n{\"b\":2}\n```"))
}
