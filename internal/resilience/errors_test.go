package resilience

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit transient", NewTransientError(errors.New("429"), 429), true},
		{"wrapped transient", eris.Wrap(NewTransientError(errors.New("503"), 503), "salesforce: query"), true},
		{"plain error", errors.New("INVALID_SESSION_ID"), false},
		{"salesforce row lock", errors.New("UNABLE_TO_LOCK_ROW: record currently unavailable"), true},
		{"salesforce api quota", errors.New("REQUEST_LIMIT_EXCEEDED: TotalRequests limit exceeded"), true},
		{"anthropic overloaded", fmt.Errorf("api error: %s", "overloaded_error"), true},
		{"dropped connection", errors.New("read tcp: connection reset by peer"), true},
		{"dns failure", errors.New("dial tcp: lookup api.example.test: no such host"), true},
		{"auth failure", errors.New("401 unauthorized"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("bad gateway")
	te := NewTransientError(inner, 502)

	assert.ErrorIs(t, te, inner)
	assert.Equal(t, "bad gateway", te.Error())
	assert.Equal(t, 502, te.StatusCode)
}

func TestIsTransientHTTPStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 201, 301, 400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}
