package tcapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stackinspector/teo-utils/internal/retry"
)

type echoResponse struct {
	TotalCount int    `json:"TotalCount"`
	RequestID  string `json:"RequestId"`
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c := NewClient(Credentials{SecretID: "id", SecretKey: "key"}, nil)
	c.HTTPClient = srv.Client()
	c.Endpoint = func(Service) string { return srv.URL + "/" }
	c.Now = func() time.Time { return time.Unix(1721232000, 0) }
	c.Retry = retry.Policy{Attempts: 3, Initial: time.Millisecond, Max: time.Millisecond}
	return c
}

func TestCallSendsSignedRequest(t *testing.T) {
	var gotBody string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.Host != "teo.tencentcloudapi.com" {
			t.Errorf("Host = %q, want teo.tencentcloudapi.com", r.Host)
		}
		if got := r.Header.Get("X-TC-Action"); got != "DownloadL7Logs" {
			t.Errorf("X-TC-Action = %q", got)
		}
		if got := r.Header.Get("X-TC-Timestamp"); got != "1721232000" {
			t.Errorf("X-TC-Timestamp = %q", got)
		}
		if got := r.Header.Get("X-TC-Region"); got != "ap-guangzhou" {
			t.Errorf("X-TC-Region = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)

		want := Sign(EdgeOne, "DownloadL7Logs", body, 1721232000, Credentials{SecretID: "id", SecretKey: "key"})
		if r.Header.Get("Authorization") != want.Header.Get("Authorization") {
			t.Errorf("Authorization mismatch: %s", r.Header.Get("Authorization"))
		}

		_, _ = io.WriteString(w, `{"Response":{"TotalCount":2,"RequestId":"req-1"}}`)
	})
	c.Region = "ap-guangzhou"

	var out echoResponse
	err := c.Call(context.Background(), EdgeOne, "DownloadL7Logs", map[string]any{"Limit": 300}, &out)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if out.TotalCount != 2 || out.RequestID != "req-1" {
		t.Errorf("out = %+v", out)
	}
	if gotBody != `{"Limit":300}` {
		t.Errorf("body = %s", gotBody)
	}
}

func TestCallAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"Response":{"Error":{"Code":"AuthFailure.SignatureFailure","Message":"bad signature"},"RequestId":"req-2"}}`)
	})

	err := c.Call(context.Background(), EdgeOne, "DownloadL7Logs", struct{}{}, &echoResponse{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Code != "AuthFailure.SignatureFailure" || apiErr.RequestID != "req-2" {
		t.Errorf("apiErr = %+v", apiErr)
	}
}

func TestCallRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"Response":{"TotalCount":1,"RequestId":"req-3"}}`)
	})

	var out echoResponse
	if err := c.Call(context.Background(), EdgeOne, "DownloadL7Logs", struct{}{}, &out); err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestCallDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusForbidden)
	})

	err := c.Call(context.Background(), EdgeOne, "DownloadL7Logs", struct{}{}, nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", se.StatusCode)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestCallTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(Credentials{SecretID: "id", SecretKey: "key"}, nil)
	c.Endpoint = func(Service) string { return url + "/" }
	c.Retry = retry.None()

	err := c.Call(context.Background(), EdgeOne, "DownloadL7Logs", struct{}{}, nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("err = %v, want *TransportError", err)
	}
	if !Retryable(err) {
		t.Error("transport error should be retryable")
	}
}

func TestCallMalformedBody(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, `not json`)
	})

	err := c.Call(context.Background(), EdgeOne, "DownloadL7Logs", struct{}{}, &echoResponse{})
	if err == nil || !strings.Contains(err.Error(), "decode envelope") {
		t.Fatalf("err = %v, want decode error", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestCallUnencodablePayload(t *testing.T) {
	c := NewClient(Credentials{SecretID: "id", SecretKey: "key"}, nil)
	err := c.Call(context.Background(), EdgeOne, "DownloadL7Logs", make(chan int), nil)
	if err == nil || !strings.Contains(err.Error(), "encode payload") {
		t.Fatalf("err = %v, want encode error", err)
	}
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"plain", `{"secret_id":"AKID","secret_key":"sk"}`, false},
		{"comments", "{\n  // api key\n  \"secret_id\": \"AKID\",\n  \"secret_key\": \"sk\",\n}", false},
		{"missing key", `{"secret_id":"AKID"}`, true},
		{"not json", `secret`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".json")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}
			creds, err := LoadCredentials(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("LoadCredentials() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (creds.SecretID != "AKID" || creds.SecretKey != "sk") {
				t.Errorf("creds = %+v", creds)
			}
		})
	}
}

func TestCredentialsRedacted(t *testing.T) {
	creds := Credentials{SecretID: "AKID", SecretKey: "super-secret"}
	for _, s := range []string{creds.String(), creds.GoString()} {
		if strings.Contains(s, "super-secret") {
			t.Errorf("secret leaked: %s", s)
		}
		if !strings.Contains(s, "AKID") {
			t.Errorf("secret id missing: %s", s)
		}
	}
}
