package tahan

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestTransport(handler http.HandlerFunc) (*HTTPTransport, *httptest.Server) {
	srv := httptest.NewServer(handler)
	tr := NewHTTPTransport(srv.Client(), map[ServiceType]string{
		ServiceVision: srv.URL,
	})
	return tr, srv
}

func TestHTTPTransportCredentialOnQuery(t *testing.T) {
	var gotKey string
	tr, srv := newTestTransport(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		w.Write([]byte(`{"text":"answer"}`))
	})
	defer srv.Close()

	data, err := tr.Do(context.Background(), Credential{Token: "secret"}, ServiceVision, []byte("p"))
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if gotKey != "secret" {
		t.Errorf("Expected credential on query string, got %q", gotKey)
	}
	if string(data) != "answer" {
		t.Errorf("Expected envelope unwrapped, got %q", data)
	}
}

func TestHTTPTransportStatusMapping(t *testing.T) {
	cases := []struct {
		status   int
		wantType string
	}{
		{http.StatusTooManyRequests, ErrorTypeRateLimited},
		{http.StatusInternalServerError, ErrorTypeServer},
		{http.StatusBadGateway, ErrorTypeServer},
		{http.StatusForbidden, ErrorTypeServer},
	}

	for _, tc := range cases {
		tr, srv := newTestTransport(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		_, err := tr.Do(context.Background(), Credential{Token: "k"}, ServiceVision, []byte("p"))
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		if ErrorType(err) != tc.wantType {
			t.Errorf("status %d: expected %s, got %s", tc.status, tc.wantType, ErrorType(err))
		}
	}
}

func TestHTTPTransportRateLimitCarriesStatus(t *testing.T) {
	tr, srv := newTestTransport(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	_, err := tr.Do(context.Background(), Credential{Token: "k"}, ServiceVision, []byte("p"))
	if !IsRateLimited(err) {
		t.Fatalf("Expected rate limited error, got %v", err)
	}
	ge, ok := err.(*GatewayError)
	if !ok || ge.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status 429 on error, got %+v", err)
	}
}

func TestHTTPTransportTimeout(t *testing.T) {
	tr, srv := newTestTransport(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"text":"late"}`))
	})
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := tr.Do(ctx, Credential{Token: "k"}, ServiceVision, []byte("p"))
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if ErrorType(err) != ErrorTypeTimeout {
		t.Errorf("Expected timeout type, got %s", ErrorType(err))
	}
}

func TestHTTPTransportBarePassthrough(t *testing.T) {
	tr, srv := newTestTransport(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain reply"))
	})
	defer srv.Close()

	data, err := tr.Do(context.Background(), Credential{Token: "k"}, ServiceVision, []byte("p"))
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if string(data) != "plain reply" {
		t.Errorf("Expected bare body passthrough, got %q", data)
	}
}

func TestHTTPTransportEmptyReply(t *testing.T) {
	tr, srv := newTestTransport(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("   "))
	})
	defer srv.Close()

	_, err := tr.Do(context.Background(), Credential{Token: "k"}, ServiceVision, []byte("p"))
	if ErrorType(err) != ErrorTypeParse {
		t.Errorf("Expected parse error for empty reply, got %v", err)
	}
}

func TestHTTPTransportUnknownService(t *testing.T) {
	tr := NewHTTPTransport(nil, nil)

	_, err := tr.Do(context.Background(), Credential{Token: "k"}, ServiceGeo, []byte("p"))
	if ErrorType(err) != ErrorTypeValidation {
		t.Errorf("Expected validation error for missing endpoint, got %v", err)
	}
}

func TestHTTPTransportDoBatchPrompt(t *testing.T) {
	var gotBody string
	tr, srv := newTestTransport(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{"text":"REQUEST_1_RESPONSE: a\nREQUEST_2_RESPONSE: b"}`))
	})
	defer srv.Close()

	payloads := [][]byte{[]byte("first"), []byte("second")}
	data, err := tr.DoBatch(context.Background(), Credential{Token: "k"}, ServiceVision, payloads)
	if err != nil {
		t.Fatalf("DoBatch() error: %v", err)
	}

	for _, marker := range []string{"REQUEST_1:", "REQUEST_2:", "REQUEST_1_RESPONSE:", "REQUEST_2_RESPONSE:"} {
		if !strings.Contains(gotBody, marker) {
			t.Errorf("Expected prompt to contain %q", marker)
		}
	}
	if !strings.Contains(gotBody, "first") || !strings.Contains(gotBody, "second") {
		t.Error("Expected prompt to embed the payloads")
	}

	parts, err := splitBatchResponse(string(data), 2)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if string(parts[0].data) != "a" || string(parts[1].data) != "b" {
		t.Errorf("Unexpected demux: %q, %q", parts[0].data, parts[1].data)
	}
}
