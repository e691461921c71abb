package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapMatchesSentinel(t *testing.T) {
	cause := errors.New("rsa: message too long")
	err := Wrap(ErrEncryption, cause)

	assert.ErrorIs(t, err, ErrEncryption)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrDecryption)
	assert.Equal(t, "encryption failed: rsa: message too long", err.Error())
}

func TestWrappedByFmtStillMatches(t *testing.T) {
	err := fmt.Errorf("send: %w", Wrap(ErrKeysPending, nil))
	assert.ErrorIs(t, err, ErrKeysPending)
	assert.Equal(t, CodeFailedPrecondition, CodeOf(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrDuplicateEmail, http.StatusConflict},
		{ErrInvalidCredentials, http.StatusUnauthorized},
		{ErrNotFound, http.StatusNotFound},
		{ErrInvalidArgument, http.StatusBadRequest},
		{ErrKeysPending, http.StatusPreconditionFailed},
		{ErrKeyGeneration, http.StatusInternalServerError},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}
