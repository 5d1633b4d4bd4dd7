package products

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	p := Get("three-cards")
	require.NotNil(t, p)
	assert.Equal(t, "Три карты", p.Title)
	assert.Equal(t, 290, p.PriceRub)

	assert.Nil(t, Get("no-such-product"))
}

func TestAllIsACopy(t *testing.T) {
	all := All()
	require.NotEmpty(t, all)
	all[0].PriceRub = 1

	assert.NotEqual(t, 1, Get(All()[0].ID).PriceRub)
}

func TestRubToStars(t *testing.T) {
	cases := []struct {
		rub   int
		stars int
	}{
		{99, 44},   // 99/2.3 = 43.04 -> 44
		{290, 127}, // 290/2.3 = 126.08 -> 127
		{690, 300},
		{790, 344}, // 790/2.3 = 343.47 -> 344
		{1, 1},
		{2, 1}, // 2/2.3 = 0.87 -> ceil 1
		{0, 0},
		{-5, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.stars, RubToStars(tc.rub), "rub=%d", tc.rub)
	}
}
