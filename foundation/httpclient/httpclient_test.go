package httpclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestGetJSON(t *testing.T) {
	is := is.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte(`{"code":"Ok"}`))
		case "/broken":
			_, _ = w.Write([]byte(`{"code":`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte("bad token"))
		}
	}))
	defer server.Close()
	client := New(time.Second)

	var response struct {
		Code string `json:"code"`
	}
	is.NoErr(GetJSON(context.Background(), client, server.URL+"/ok", &response))
	is.Equal(response.Code, "Ok")

	err := GetJSON(context.Background(), client, server.URL+"/broken", &response)
	is.True(err != nil)
	is.True(strings.Contains(err.Error(), "malformed response payload"))

	err = GetJSON(context.Background(), client, server.URL+"/denied?access_token=secret", &response)
	var statusErr *StatusError
	is.True(errors.As(err, &statusErr))
	is.Equal(statusErr.StatusCode, http.StatusUnauthorized)
	is.Equal(statusErr.Body, "bad token")
	is.True(!strings.Contains(err.Error(), "secret"))
}

func TestGetBytes_ConnectionError(t *testing.T) {
	is := is.New(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	requestURL := server.URL + "/route?access_token=secret"
	server.Close()

	_, err := GetBytes(context.Background(), New(time.Second), requestURL)
	is.True(err != nil)
	var urlErr *url.Error
	is.True(errors.As(err, &urlErr))
	is.Equal(urlErr.URL, server.URL+"/route")
	is.True(!strings.Contains(err.Error(), "secret"))
}
