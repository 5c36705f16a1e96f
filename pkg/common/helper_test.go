package common

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tickwire.com/pkg/xerr"
)

func TestRequestIDFromGin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, RequestIDFromGin(c))

	c.Set(CtxKeyRequestID, 42)
	assert.Empty(t, RequestIDFromGin(c), "非字符串忽略")

	id := NewRequestID()
	c.Set(CtxKeyRequestID, id)
	assert.Equal(t, id, RequestIDFromGin(c))
	assert.NotEqual(t, id, NewRequestID())
}

func TestFailFromErr(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		err    error
		status int
		code   int
	}{
		{"rate limited", xerr.Wrap(xerr.RateLimitExceeded, "taapi", errors.New("spacing")), http.StatusTooManyRequests, xerr.RateLimitExceeded},
		{"transient", xerr.Wrap(xerr.TransientNetwork, "taapi", errors.New("503")), http.StatusServiceUnavailable, xerr.TransientNetwork},
		{"permanent", xerr.Wrap(xerr.Permanent, "taapi", errors.New("404")), http.StatusBadGateway, xerr.Permanent},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, 5000000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/api/indicators/taapi/rsi", nil)

			FailFromErr(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var resp Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.code, resp.Code)
			assert.Nil(t, resp.Data)
			// 错误细节只进日志
			assert.NotContains(t, w.Body.String(), "404")
		})
	}
}
