package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   int
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), 42),
			userId:   42,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %d", tc.userId)
		})
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, "correct horse", hash)

	assert.True(t, verifyPassword(hash, "correct horse"))
	assert.False(t, verifyPassword(hash, "battery staple"))
}

func TestJwtRoundTrip(t *testing.T) {
	token, err := createJwtForSession(7, time.Hour, testSigningKey)
	require.NoError(t, err)

	userId, err := extractUserIdFromToken(token, testSigningKey)
	require.NoError(t, err)
	assert.Equal(t, 7, userId)

	_, err = extractUserIdFromToken(token+"x", testSigningKey)
	assert.Error(t, err)
}

func TestCreateJwtCookie(t *testing.T) {
	exp := time.Now().Add(time.Hour)
	c := createJwtCookie("abc", exp)

	assert.Equal(t, tokenCookieKey, c.Name)
	assert.Equal(t, "abc", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, exp, c.Expires)
}
