package inventory

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStockArithmetic(t *testing.T) {
	n, ok := Finite(-4).Count()
	assert.True(t, ok)
	assert.Equal(t, 0, n)

	assert.True(t, Finite(3).Add(Unbounded()).IsUnbounded())
	assert.True(t, Unbounded().Add(Finite(3)).IsUnbounded())
	assert.Equal(t, Finite(7), Finite(3).Add(Finite(4)))
	assert.Equal(t, Finite(math.MaxInt), Finite(math.MaxInt).Add(Finite(1)))

	assert.True(t, Finite(5).Covers(5))
	assert.False(t, Finite(5).Covers(6))
	assert.True(t, Unbounded().Covers(math.MaxInt))

	_, ok = Unbounded().Count()
	assert.False(t, ok)
	assert.Nil(t, Unbounded().IntPtr())
}

func TestStockJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Stock `json:"a"`
		B Stock `json:"b"`
	}{Finite(12), Unbounded()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":12,"b":"unbounded"}`, string(b))

	var s Stock
	require.NoError(t, json.Unmarshal([]byte(`"unbounded"`), &s))
	assert.True(t, s.IsUnbounded())
	require.NoError(t, json.Unmarshal([]byte(`9`), &s))
	assert.Equal(t, Finite(9), s)
	assert.Error(t, json.Unmarshal([]byte(`-1`), &s))
	assert.Error(t, json.Unmarshal([]byte(`"lots"`), &s))
}
