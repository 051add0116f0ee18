package api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func getHealth(t *testing.T, url string) (int, healthResponse) {
	t.Helper()
	resp, err := http.Get(url + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, body
}

func TestHealthzEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	code, body := getHealth(t, ts.URL)
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	want := healthResponse{Status: healthOK, Store: healthOK, Backend: "sandbox", Backends: 2}
	if body != want {
		t.Errorf("healthz = %+v, want %+v", body, want)
	}
}

func TestHealthzStoreDown(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	srv.store.Close()
	code, body := getHealth(t, ts.URL)
	if code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", code)
	}
	if body.Status != healthDegraded || body.Store == healthOK {
		t.Errorf("healthz = %+v, want a degraded store", body)
	}
	if body.Backend != "sandbox" {
		t.Errorf("backend = %q, want sandbox", body.Backend)
	}
}

func TestBackendsMarkDefault(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	var list []backendResponse
	if code := doJSON(t, http.MethodGet, ts.URL+"/v1/backends", nil, &list); code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", code)
	}
	defaults := map[string]bool{}
	for _, b := range list {
		defaults[b.Name] = b.Default
	}
	if !defaults["sandbox"] || defaults["subprocess"] {
		t.Errorf("defaults = %v, want only sandbox", defaults)
	}

	tests := []struct {
		name     string
		want     int
		wantName string
	}{
		{"subprocess", http.StatusOK, "subprocess"},
		{"auto", http.StatusOK, "sandbox"},
		{"nope", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		var got backendResponse
		code := doJSON(t, http.MethodGet, ts.URL+"/v1/backends/"+tt.name, nil, &got)
		if code != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.name, code, tt.want)
			continue
		}
		if tt.wantName != "" && got.Name != tt.wantName {
			t.Errorf("GET %s name = %q, want %q", tt.name, got.Name, tt.wantName)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/healthz", "/v1/backends/sandbox", "/v1/backends/subprocess"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	bodyBytes, _ := io.ReadAll(resp.Body)
	body := string(bodyBytes)

	for _, want := range []string{
		`scribe_http_requests_total{method="GET",route="/healthz",status="200"}`,
		`route="/v1/backends/{name}"`,
		"scribe_http_request_duration_seconds",
		"scribe_http_response_bytes",
		"scribe_http_requests_in_flight",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
	if strings.Contains(body, `route="/v1/backends/sandbox"`) {
		t.Error("metrics labelled a raw path")
	}
}
