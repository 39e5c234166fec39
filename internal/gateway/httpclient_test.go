package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/paygate/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_Do_DecodesSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk", r.Header.Get("Authorization"))
		assert.Equal(t, "/ping", r.URL.Path)
		w.Write([]byte(`{"status":true}`))
	}))
	defer srv.Close()

	client := NewHTTPClient("paystack", srv.URL+"/", time.Second)
	var out struct {
		Status bool `json:"status"`
	}
	err := client.Do(context.Background(), Request{
		Method:  http.MethodGet,
		Path:    "/ping",
		Headers: map[string]string{"Authorization": "Bearer sk"},
	}, &out)

	require.NoError(t, err)
	assert.True(t, out.Status)
}

func TestHTTPClient_Do_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		want   domainErrors.GatewayErrorKind
	}{
		{http.StatusNotFound, domainErrors.KindNotFound},
		{http.StatusBadRequest, domainErrors.KindRejected},
		{http.StatusUnauthorized, domainErrors.KindRejected},
		{http.StatusTooManyRequests, domainErrors.KindUnavailable},
		{http.StatusInternalServerError, domainErrors.KindUnavailable},
		{http.StatusGatewayTimeout, domainErrors.KindTimeout},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewHTTPClient("paystack", srv.URL, time.Second).Do(context.Background(), Request{Method: http.MethodGet, Path: "/"}, nil)
			assert.Equal(t, tt.want, domainErrors.KindOf(err))
		})
	}
}

func TestHTTPClient_Do_TimeoutAndParse(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := NewHTTPClient("opay", slow.URL, 5*time.Second).Do(ctx, Request{Method: http.MethodGet, Path: "/"}, nil)
	assert.Equal(t, domainErrors.KindTimeout, domainErrors.KindOf(err))

	garbled := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer garbled.Close()

	var out map[string]any
	err = NewHTTPClient("opay", garbled.URL, time.Second).Do(context.Background(), Request{Method: http.MethodGet, Path: "/"}, &out)
	assert.Equal(t, domainErrors.KindParse, domainErrors.KindOf(err))
}

func TestHTTPClient_Do_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewHTTPClient("flutterwave", url, time.Second).Do(context.Background(), Request{Method: http.MethodGet, Path: "/"}, nil)
	assert.ErrorIs(t, err, domainErrors.ErrGatewayUnavailable)
}
