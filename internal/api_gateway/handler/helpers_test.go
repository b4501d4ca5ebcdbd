package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/spei-ledger/internal/api_gateway/middleware"
	"github.com/spei-ledger/internal/authz"
	"github.com/stretchr/testify/require"
)

var (
	testLogger    = slog.New(slog.NewJSONHandler(io.Discard, nil))
	testCompanyID = uuid.MustParse("6f1c2c8e-1f7a-4b2e-9a51-7d1f0f6a2b10")
	testActor     = authz.Actor{UserID: "user-1", Role: authz.RoleOperator, CompanyID: &testCompanyID}
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Actor())
	return r
}

// serve sends a request as testActor.
func serve(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewBuffer(raw)
	}

	req, _ := http.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.UserIDHeader, testActor.UserID)
	req.Header.Set(middleware.UserRoleHeader, string(testActor.Role))
	req.Header.Set(middleware.CompanyIDHeader, testCompanyID.String())

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

// decodeData unmarshals the response envelope and its data field into out.
func decodeData(t *testing.T, rr *httptest.ResponseRecorder, out interface{}) Response {
	t.Helper()
	var envelope struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &envelope))
	if out != nil {
		require.NotEmpty(t, envelope.Data, "'data' field should not be empty")
		require.NoError(t, json.Unmarshal(envelope.Data, out))
	}
	return envelope.Response
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	resp := decodeData(t, rr, nil)
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func newRecorder(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(rr *httptest.ResponseRecorder, out interface{}) error {
	return json.Unmarshal(rr.Body.Bytes(), out)
}
