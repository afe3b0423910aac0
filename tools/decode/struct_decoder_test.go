package decode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type markRead struct {
	NotificationID int64 `json:"notificationId"`
}

type claimsLike struct {
	Sub    string         `json:"sub"`
	Roles  []string       `json:"roles"`
	Tenant int64          `json:"tenant_id"`
	Extra  map[string]any `json:"extra"`
}

func TestDecodeJSON_FloatToInt(t *testing.T) {
	out, err := DecodeJSON[markRead]([]byte(`{"notificationId": 42}`))
	require.NoError(t, err)
	require.Equal(t, int64(42), out.NotificationID)
}

func TestDecodeJSON_NumericString(t *testing.T) {
	out, err := DecodeJSON[markRead]([]byte(`{"notificationId": "17"}`))
	require.NoError(t, err)
	require.Equal(t, int64(17), out.NotificationID)
}

func TestDecodeJSON_Empty(t *testing.T) {
	out, err := DecodeJSON[markRead](nil)
	require.NoError(t, err)
	require.Zero(t, out.NotificationID)
}

func TestDecodeMap_SlicesAndNestedJSON(t *testing.T) {
	out, err := DecodeMap[claimsLike](map[string]any{
		"sub":       "42",
		"roles":     []any{"admin", "superadmin"},
		"tenant_id": float64(7),
		"extra":     `{"k":"v"}`,
	})
	require.NoError(t, err)
	require.Equal(t, "42", out.Sub)
	require.Equal(t, []string{"admin", "superadmin"}, out.Roles)
	require.Equal(t, int64(7), out.Tenant)
	require.Equal(t, "v", out.Extra["k"])
}

func TestDecodeJSON_Invalid(t *testing.T) {
	_, err := DecodeJSON[markRead]([]byte(`[1,2]`))
	require.Error(t, err)
}

func TestReadInt64(t *testing.T) {
	m := map[string]any{"a": float64(3), "b": "9", "c": true}
	n, err := ReadInt64(m, "a")
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	n, err = ReadInt64(m, "b")
	require.NoError(t, err)
	require.Equal(t, int64(9), n)
	_, err = ReadInt64(m, "c")
	require.Error(t, err)
	_, err = ReadInt64(m, "missing")
	require.Error(t, err)
}
