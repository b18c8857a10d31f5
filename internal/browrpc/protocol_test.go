package browrpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestUnmarshalExposesNamedFields(t *testing.T) {
	var req Request
	err := json.Unmarshal([]byte(`{"token":"T","cmd":"close","sessionId":"S2"}`), &req)
	require.NoError(t, err)
	require.Equal(t, "T", req.Token)
	require.Equal(t, "close", req.Cmd)

	var sessionID string
	require.True(t, req.Field("sessionId", &sessionID))
	require.Equal(t, "S2", sessionID)

	var missing string
	require.False(t, req.Field("nope", &missing))
}

func TestOKAndErrorfEncodeExpectedShape(t *testing.T) {
	ok := OK(map[string]any{"running": false})
	data, err := json.Marshal(ok)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"ok","data":{"running":false}}`, string(data))

	errResp := Errorf(ErrAuth, Unauthorized)
	data, err = json.Marshal(errResp)
	require.NoError(t, err)
	require.JSONEq(t, `{"status":"error","message":"Unauthorized - invalid or missing token","code":"auth"}`, string(data))
}
