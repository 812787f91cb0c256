package billing

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{fmt.Errorf("%w: bad sig", ErrAuthentication), http.StatusUnauthorized},
		{fmt.Errorf("%w: no price", ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: json", ErrInvalidPayload), http.StatusBadRequest},
		{fmt.Errorf("%w: no such price", ErrProviderRejected), http.StatusBadRequest},
		{fmt.Errorf("%w: timeout", ErrProviderUnavailable), http.StatusInternalServerError},
		{fmt.Errorf("%w: deadlock", ErrStoreWrite), http.StatusInternalServerError},
		{ErrUnknownStatus, http.StatusInternalServerError},
		{errors.New("anything else"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}

func TestPublicMessageHidesDetails(t *testing.T) {
	err := fmt.Errorf("%w: dial tcp 10.0.0.3:3306: connection refused", ErrStoreWrite)

	assert.Equal(t, "internal error", PublicMessage(err))
	assert.Equal(t, "missing required parameters", PublicMessage(fmt.Errorf("%w: x", ErrValidation)))
}
