package checkout

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveKeyStable(t *testing.T) {
	a := DeriveKey("", "u1", "2026-09-01", "12:30", 4500, 3)
	b := DeriveKey("", "u1", "2026-09-01", "12:30", 4500, 3)
	require.Equal(t, a, b)
	require.Equal(t, "u1|2026-09-01|12:30|4500|3", a)
}

func TestDeriveKeyChangesWithAnyInput(t *testing.T) {
	base := DeriveKey("", "u1", "2026-09-01", "12:30", 4500, 3)
	require.NotEqual(t, base, DeriveKey("", "u2", "2026-09-01", "12:30", 4500, 3))
	require.NotEqual(t, base, DeriveKey("", "u1", "2026-09-02", "12:30", 4500, 3))
	require.NotEqual(t, base, DeriveKey("", "u1", "2026-09-01", "12:45", 4500, 3))
	require.NotEqual(t, base, DeriveKey("", "u1", "2026-09-01", "12:30", 4600, 3))
	require.NotEqual(t, base, DeriveKey("", "u1", "2026-09-01", "12:30", 4500, 4))
}

func TestDeriveKeyClientKeyWins(t *testing.T) {
	require.Equal(t, "client-key", DeriveKey("  client-key ", "u1", "d", "t", 1, 1))
}

func TestLayerToken(t *testing.T) {
	layered, token := LayerToken("base", "tok-1")
	require.Equal(t, "base|tok-1", layered)
	require.Equal(t, "tok-1", token)

	first, tok := LayerToken("base", "")
	require.NotEmpty(t, tok)
	second, _ := LayerToken("base", tok)
	require.Equal(t, first, second)

	other, _ := LayerToken("base", "")
	require.NotEqual(t, first, other)
}
