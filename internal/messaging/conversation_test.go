package messaging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversationID(t *testing.T) {
	assert.Equal(t, "dm:3:7", ConversationID(3, 7))
	assert.Equal(t, ConversationID(3, 7), ConversationID(7, 3), "expected the id to ignore participant order")
	assert.Equal(t, "dm:5:5", ConversationID(5, 5))
}

func TestParseConversationID(t *testing.T) {
	tcases := []struct {
		id     string
		lo, hi int
		err    bool
	}{
		{id: "dm:1:2", lo: 1, hi: 2},
		{id: "dm:4:4", lo: 4, hi: 4},
		{id: "dm:2:1", err: true},
		{id: "dm:0:1", err: true},
		{id: "dm:a:1", err: true},
		{id: "room:1:2", err: true},
		{id: "dm:1", err: true},
		{id: "", err: true},
	}

	for _, tc := range tcases {
		t.Run(tc.id, func(t *testing.T) {
			lo, hi, err := ParseConversationID(tc.id)
			if tc.err {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.lo, lo)
			assert.Equal(t, tc.hi, hi)
		})
	}
}

func TestCounterpart(t *testing.T) {
	other, err := Counterpart("dm:1:2", 1)
	assert.NoError(t, err)
	assert.Equal(t, 2, other)

	other, err = Counterpart("dm:1:2", 2)
	assert.NoError(t, err)
	assert.Equal(t, 1, other)

	_, err = Counterpart("dm:1:2", 3)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = Counterpart("garbage", 1)
	assert.ErrorIs(t, err, ErrValidation)
}
