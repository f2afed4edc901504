package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/osvaldoandrade/nftbatch/internal/backoff"
	"github.com/osvaldoandrade/nftbatch/pkg/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc, attempts int) (CollectionsClient, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	c := NewCollectionsClient(CollectionsClientOptions{
		BaseURL:       srv.URL + "/",
		Timeout:       2 * time.Second,
		Attempts:      attempts,
		BackoffPolicy: backoff.PolicyFixed,
		BackoffBase:   time.Millisecond,
		BackoffMax:    time.Millisecond,
	})
	return c, &hits
}

func TestGetStatus_Success(t *testing.T) {
	var gotPath, gotAccept string
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAccept = r.Header.Get("Accept")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"s3Link":"https://s3/x.zip","status":"finished"}`))
	}, 1)

	out := c.GetStatus(context.Background(), "0xABC")
	if !out.IsSuccess() {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.Response.Status != domain.JobFinished || out.Response.ArchiveLink != "https://s3/x.zip" {
		t.Fatalf("unexpected response %+v", out.Response)
	}
	if gotPath != "/collections/0xABC" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotAccept != "application/json" {
		t.Fatalf("accept = %q", gotAccept)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Fatalf("hits = %d, want 1", atomic.LoadInt32(hits))
	}
}

func TestGetStatus_DecodeCases(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind domain.OutcomeKind
		wantResp domain.StatusResponse
	}{
		{"pending without link", `{"status":"pending"}`, domain.OutcomeSuccess, domain.StatusResponse{Status: domain.JobPending}},
		{"null link", `{"s3Link":null,"status":"in-progress"}`, domain.OutcomeSuccess, domain.StatusResponse{Status: domain.JobInProgress}},
		{"extra fields ignored", `{"status":"finished","s3Link":"L","extra":1}`, domain.OutcomeSuccess, domain.StatusResponse{Status: domain.JobFinished, ArchiveLink: "L"}},
		{"unknown status kept", `{"status":"archived"}`, domain.OutcomeSuccess, domain.StatusResponse{Status: "archived"}},
		{"html", `<html>oops</html>`, domain.OutcomeDecodeError, domain.StatusResponse{}},
		{"missing status", `{"s3Link":"queued"}`, domain.OutcomeSuccess, domain.StatusResponse{ArchiveLink: "queued"}},
		{"empty object", `{}`, domain.OutcomeSuccess, domain.StatusResponse{}},
		{"array", `[]`, domain.OutcomeDecodeError, domain.StatusResponse{}},
		{"numeric status", `{"status":3}`, domain.OutcomeDecodeError, domain.StatusResponse{}},
		{"null body", `null`, domain.OutcomeDecodeError, domain.StatusResponse{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}, 1)
			out := c.GetStatus(context.Background(), "0xABC")
			if out.Kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s (%v)", out.Kind, tt.wantKind, out.Err())
			}
			if out.Response != tt.wantResp {
				t.Fatalf("response = %+v, want %+v", out.Response, tt.wantResp)
			}
			if tt.wantKind == domain.OutcomeDecodeError && string(out.Body) != tt.body {
				t.Fatalf("body = %q, want %q", out.Body, tt.body)
			}
		})
	}
}

func TestGetStatus_MissingStatusLeavesViewUnchanged(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"s3Link":"queued"}`))
	}, 1)

	prev := domain.View{
		Address:     "0xABC",
		Message:     domain.FinishedMessage,
		ArchiveLink: "https://s3.aws/archive",
		Status:      domain.JobFinished,
	}
	out := c.GetStatus(context.Background(), "0xABC")
	if err := out.Err(); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if out.Response.Status.IsKnown() {
		t.Fatalf("expected unrecognized status, got %q", out.Response.Status)
	}
	if got := domain.Apply(prev, "0xABC", out, time.Now()); got != prev {
		t.Fatalf("view changed: %+v", got)
	}
}

func TestGetStatus_ConcurrentRetries(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 3)
	// Exercise the jittered policies too, which draw from the random source.
	c.(*collectionsClient).policy = backoff.PolicyExpFullJitter

	const workers = 16
	var wg sync.WaitGroup
	outs := make([]domain.Outcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outs[i] = c.GetStatus(context.Background(), "0xABC")
		}(i)
	}
	wg.Wait()

	for i, out := range outs {
		if out.Kind != domain.OutcomeTransportError || out.HTTPStatus != http.StatusServiceUnavailable {
			t.Fatalf("worker %d: unexpected outcome %+v", i, out)
		}
	}
	if got := atomic.LoadInt32(hits); got != workers*3 {
		t.Fatalf("hits = %d, want %d", got, workers*3)
	}
}

func TestGetStatus_NotFoundIsNotRetried(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}, 3)

	out := c.GetStatus(context.Background(), "0xABC")
	if out.Kind != domain.OutcomeTransportError || out.HTTPStatus != http.StatusNotFound {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Fatalf("hits = %d, want 1", atomic.LoadInt32(hits))
	}
}

func TestGetStatus_RetriesServerErrors(t *testing.T) {
	var calls int32
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	}, 3)

	out := c.GetStatus(context.Background(), "0xABC")
	if !out.IsSuccess() || out.Response.Status != domain.JobPending {
		t.Fatalf("expected success after retries, got %+v", out)
	}
	if atomic.LoadInt32(hits) != 3 {
		t.Fatalf("hits = %d, want 3", atomic.LoadInt32(hits))
	}
}

func TestGetStatus_ExhaustedRetries(t *testing.T) {
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 2)

	out := c.GetStatus(context.Background(), "0xABC")
	if out.Kind != domain.OutcomeTransportError || out.HTTPStatus != http.StatusServiceUnavailable {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if atomic.LoadInt32(hits) != 2 {
		t.Fatalf("hits = %d, want 2", atomic.LoadInt32(hits))
	}
}

func TestGetStatus_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c := NewCollectionsClient(CollectionsClientOptions{BaseURL: base, Timeout: time.Second})
	out := c.GetStatus(context.Background(), "0xABC")
	if out.Kind != domain.OutcomeTransportError {
		t.Fatalf("kind = %s, want transport_error", out.Kind)
	}
	if out.HTTPStatus != 0 {
		t.Fatalf("HTTPStatus = %d, want 0", out.HTTPStatus)
	}
	if out.Err() == nil {
		t.Fatal("expected error")
	}
}

func TestGetStatus_CanceledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusInternalServerError)
	}, 5)

	out := c.GetStatus(ctx, "0xABC")
	if out.Kind != domain.OutcomeTransportError {
		t.Fatalf("kind = %s", out.Kind)
	}
	if atomic.LoadInt32(hits) != 1 {
		t.Fatalf("hits = %d, want 1", atomic.LoadInt32(hits))
	}
}

func TestStatusURL(t *testing.T) {
	tests := []struct {
		base string
		addr domain.ContractAddress
		want string
	}{
		{"http://b:8000", "0xABC", "http://b:8000/collections/0xABC"},
		{"http://b:8000/", "0xABC", "http://b:8000/collections/0xABC"},
		{"http://b", "a/b c", "http://b/collections/a%2Fb%20c"},
		{"http://b", "", "http://b/collections/"},
	}
	for _, tt := range tests {
		if got := StatusURL(tt.base, tt.addr); got != tt.want {
			t.Errorf("StatusURL(%q, %q) = %q, want %q", tt.base, tt.addr, got, tt.want)
		}
	}
}

func TestNewRedisProvider(t *testing.T) {
	client := NewRedisProvider("localhost:6379", "password", 2)
	if client == nil {
		t.Fatal("Expected redis client to be non-nil")
	}
	defer client.Close()
	if client.Options().DB != 2 {
		t.Fatalf("DB = %d, want 2", client.Options().DB)
	}
}
