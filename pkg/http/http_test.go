package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendAndParse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "usd", r.URL.Query().Get("vs"))
		assert.Equal(t, "pegwatch", r.Header.Get("User-Agent"))
		assert.Equal(t, "k", r.Header.Get("x-key"))
		if r.URL.Path == "/fail" {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"price":1.0001}`))
	}))
	defer srv.Close()

	c := NewClient()
	var out struct {
		Price float64 `json:"price"`
	}
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL + "/ok",
		Headers:     map[string]string{"x-key": "k"},
		QueryParams: map[string][]string{"vs": {"usd"}},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, 1.0001, out.Price)

	err = c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL + "/fail",
		Headers:     map[string]string{"x-key": "k"},
		QueryParams: map[string][]string{"vs": {"usd"}},
	}, &out)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}

type pingHandler struct{}

func (pingHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ping", func(c echo.Context) error { return SuccessResponse(c, "pong") })
	e.GET("/missing", func(c echo.Context) error { return AppErrorResponse(c, NotFoundError("no such thing")) })
	e.GET("/boom", func(c echo.Context) error { panic("handler bug") })
	e.GET("/opaque", func(c echo.Context) error { return AppErrorResponse(c, errors.New("db down")) })
}

func TestServerRoutesAndEnvelope(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(pingHandler{}, WithMetrics("/metrics", reg, reg))

	cases := []struct {
		path   string
		status int
	}{
		{"/ping", http.StatusOK},
		{"/missing", http.StatusNotFound},
		{"/boom", http.StatusInternalServerError},
		{"/opaque", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, tc.status, rec.Code, tc.path)

		var body APIResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), tc.path)
		assert.Equal(t, tc.status, body.Status, tc.path)
	}

	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pegwatch_http_requests_total")
}

func TestServerCORSPreflight(t *testing.T) {
	s := NewServer(pingHandler{}, WithMetrics("", nil, nil))
	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set(echo.HeaderOrigin, "https://dash.example")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://dash.example", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

type validatedRequest struct {
	Symbol string `query:"symbol" validate:"required,max=5"`
	Limit  int    `query:"limit" default:"10" validate:"gte=1"`
}

type tickerRequest struct {
	Symbol string `query:"symbol" json:"asset" validate:"required,ticker"`
}

func TestReadAndValidateRequest(t *testing.T) {
	e := echo.New()

	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/?symbol=USDT", nil), httptest.NewRecorder())
	var ok validatedRequest
	assert.Nil(t, ReadAndValidateRequest(c, &ok))
	assert.Equal(t, 10, ok.Limit)

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?symbol=TOOLONG", nil), httptest.NewRecorder())
	var bad validatedRequest
	errs, isList := ReadAndValidateRequest(c, &bad).([]ValidationError)
	require.True(t, isList)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_MAX", errs[0].Code)
	assert.Equal(t, "symbol", errs[0].Field)
	assert.Equal(t, "5", errs[0].Params["max"])

	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/?symbol=US%20DT", nil), httptest.NewRecorder())
	var badTicker tickerRequest
	errs, isList = ReadAndValidateRequest(c, &badTicker).([]ValidationError)
	require.True(t, isList)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_TICKER", errs[0].Code)
	assert.Equal(t, "asset", errs[0].Field)
}

func TestAppErrorResponseHidesCause(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, errors.New("dial tcp 10.0.0.1: refused")))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.1")

	wrapped := NotFoundError("gone").WithError(errors.New("cause")).WithParam("symbol", "DAI")
	assert.Equal(t, http.StatusNotFound, StatusOf(wrapped))
	assert.Equal(t, "gone: cause", wrapped.Error())
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}
