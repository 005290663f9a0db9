package httpclient_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/semfind/semfind/internal/httpclient"
)

func TestHTTPError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		statusCode    int
		url           string
		message       string
		expectedError string
	}{
		{
			name:          "all fields set",
			statusCode:    404,
			url:           "http://backend.local/api/github/repos",
			message:       "Not Found",
			expectedError: "backend returned HTTP 404 for http://backend.local/api/github/repos: Not Found",
		},
		{
			name:          "server error",
			statusCode:    500,
			url:           "http://backend.local/api/github/clone",
			message:       "Internal Server Error",
			expectedError: "backend returned HTTP 500 for http://backend.local/api/github/clone: Internal Server Error",
		},
		{
			name:          "empty message omits the colon",
			statusCode:    404,
			url:           "http://backend.local",
			message:       "",
			expectedError: "backend returned HTTP 404 for http://backend.local",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := httpclient.NewHTTPError(tt.statusCode, tt.url, tt.message)

			require.Error(t, err)
			assert.Equal(t, tt.expectedError, err.Error())

			var httpErr *httpclient.HTTPError
			require.ErrorAs(t, err, &httpErr)
			assert.Equal(t, tt.statusCode, httpErr.StatusCode)
			assert.Equal(t, tt.url, httpErr.URL)
			assert.Equal(t, tt.message, httpErr.Message)
		})
	}
}
