package comm

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avvvet/wheel-services/internal/store"
)

func TestReply(t *testing.T) {
	req := &WSMessage{Type: TypeGet, ID: "42", Code: "ABCDEF"}

	rsp := Reply(req, map[string]int{"revision": 3}, nil)
	assert.Equal(t, "get-response", rsp.Type)
	assert.Equal(t, "42", rsp.ID)
	assert.Empty(t, rsp.Error)
	assert.JSONEq(t, `{"revision":3}`, string(rsp.Data))

	rsp = Reply(req, nil, fmt.Errorf("lookup: %w", store.ErrNotFound))
	assert.Equal(t, ErrCodeNotFound, rsp.Error)
	assert.Nil(t, rsp.Data)
}

func TestErrorCodesRoundTrip(t *testing.T) {
	for _, err := range []error{store.ErrNotFound, store.ErrExists, store.ErrConflict, ErrBadRequest} {
		assert.ErrorIs(t, Err(ErrorCode(err)), err)
	}
	assert.ErrorIs(t, Err(ErrorCode(assert.AnError)), ErrInternal)
	assert.NoError(t, Err(""))
}

func TestMessageOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(&WSMessage{Type: TypeRoomUpdate, Code: "ABCDEF", Data: json.RawMessage("null")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"room-update","code":"ABCDEF","data":null}`, string(data))
}
