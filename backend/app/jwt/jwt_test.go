package jwtutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndParse(t *testing.T) {
	s := &Signer{Secret: []byte("secret"), Issuer: "test", ExpMin: 5}

	token, err := s.Sign(7, "alice", "admin")
	require.NoError(t, err)

	claims, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "admin", claims.Role)
	assert.Empty(t, claims.DeviceID)
}

func TestDeviceToken(t *testing.T) {
	s := &Signer{Secret: []byte("secret"), Issuer: "test", ExpMin: 5}

	token, err := s.SignDevice("dev-a")
	require.NoError(t, err)

	claims, err := s.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "device", claims.Role)
	assert.Equal(t, "dev-a", claims.DeviceID)
}

func TestParseRejectsWrongSecret(t *testing.T) {
	s := &Signer{Secret: []byte("secret"), Issuer: "test", ExpMin: 5}
	other := &Signer{Secret: []byte("different"), Issuer: "test", ExpMin: 5}

	token, err := s.SignDevice("dev-a")
	require.NoError(t, err)

	_, err = other.Parse(token)
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	s := &Signer{Secret: []byte("secret"), Issuer: "test", ExpMin: -1}

	token, err := s.Sign(1, "alice", "admin")
	require.NoError(t, err)

	_, err = s.Parse(token)
	assert.Error(t, err)
}
