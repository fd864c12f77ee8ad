package errors

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCode(t *testing.T) {
	require.Equal(t, ErrBidTooLow, Code(New(ErrBidTooLow, "too low")))
	require.Equal(t, 0, Code(fmt.Errorf("plain error")))
	require.Equal(t, 0, Code(nil))

	// The code survives wrapping.
	wrapped := fmt.Errorf("admitting bid: %w", New(ErrAuctionEnded, "ended"))
	require.Equal(t, ErrAuctionEnded, Code(wrapped))
}

func TestToJSON(t *testing.T) {
	raw := New(ErrRateLimited, "Rate limit exceeded").ToJSON()

	var payload struct {
		Type    string `json:"type"`
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Equal(t, "error", payload.Type)
	require.Equal(t, ErrRateLimited, payload.Code)
	require.Equal(t, "Rate limit exceeded", payload.Message)
}

func TestWrapUnwrap(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(cause, "reaching database")
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "reaching database")
}
