package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/osvaldoandrade/nftbatch/internal/ratelimit"
	"github.com/osvaldoandrade/nftbatch/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
)

// fakeBackend serves GET /collections/{address} from a per-address script.
type fakeBackend struct {
	mu      sync.Mutex
	replies map[string][]string
	hits    []string
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	addr := strings.TrimPrefix(r.URL.Path, "/collections/")
	f.mu.Lock()
	f.hits = append(f.hits, addr)
	queue := f.replies[addr]
	var body string
	if len(queue) > 0 {
		body = queue[0]
		f.replies[addr] = queue[1:]
	}
	f.mu.Unlock()
	if body == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, body)
}

func testConfig(serverURL string) *config.Config {
	return &config.Config{
		ServerURL:             serverURL,
		LogLevel:              "error",
		LogFormat:             "json",
		Env:                   "test",
		RequestTimeoutSeconds: 2,
		RetryAttempts:         1,
		BackoffPolicy:         "fixed",
		BackoffBaseMillis:     1,
		BackoffMaxMillis:      1,
		SessionStore:          "memory",
		SessionTTLSeconds:     3600,
		SessionCookie:         "nftbatch_session",
	}
}

func startApp(t *testing.T, cfg *config.Config) (*httptest.Server, *http.Client) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	a, err := NewApplication(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("NewApplication: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	SetupMappings(a)

	srv := httptest.NewServer(a.Engine)
	t.Cleanup(srv.Close)

	jar, _ := cookiejar.New(nil)
	return srv, &http.Client{Jar: jar}
}

func getBody(t *testing.T, c *http.Client, u string) (int, string) {
	t.Helper()
	resp, err := c.Get(u)
	if err != nil {
		t.Fatalf("GET %s: %v", u, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func postBody(t *testing.T, c *http.Client, u string, form url.Values) (int, string) {
	t.Helper()
	resp, err := c.PostForm(u, form)
	if err != nil {
		t.Fatalf("POST %s: %v", u, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestHTTPIntegrationFlow(t *testing.T) {
	backend := &fakeBackend{replies: map[string][]string{
		"0xABC": {
			`{"status":"pending","s3Link":"https://too-early"}`,
			`{"status":"finished","s3Link":"https://s3.aws/archive"}`,
			`{"status":"mystery"}`,
		},
	}}
	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)

	srv, client := startApp(t, testConfig(backendSrv.URL))

	code, body := getBody(t, client, srv.URL+"/")
	if code != http.StatusOK || !strings.Contains(body, "NFT Batch Download") {
		t.Fatalf("landing page: %d", code)
	}

	code, body = postBody(t, client, srv.URL+"/collections", url.Values{"address": {"0xABC"}})
	if code != http.StatusOK {
		t.Fatalf("submit 1 status = %d", code)
	}
	if !strings.Contains(body, "backend job has been kicked off") || strings.Contains(body, "View the images") {
		t.Fatalf("pending page wrong: %s", body)
	}

	code, body = postBody(t, client, srv.URL+"/collections", url.Values{"address": {"0xABC"}})
	if code != http.StatusOK || !strings.Contains(body, "All images have been downloaded") || !strings.Contains(body, "https://s3.aws/archive") {
		t.Fatalf("finished page wrong (%d): %s", code, body)
	}

	// Unknown status leaves the finished view in place.
	code, body = getBody(t, client, srv.URL+"/api/v1/collections/0xABC")
	if code != http.StatusOK {
		t.Fatalf("api status = %d", code)
	}
	var apiResp struct {
		View struct {
			Message     string `json:"message"`
			ArchiveLink string `json:"archiveLink"`
		} `json:"view"`
		Phase   string `json:"phase"`
		Outcome struct {
			Kind   string `json:"kind"`
			Status string `json:"status"`
		} `json:"outcome"`
	}
	if err := json.Unmarshal([]byte(body), &apiResp); err != nil {
		t.Fatalf("decode api response: %v", err)
	}
	if apiResp.Outcome.Status != "unrecognized" || apiResp.View.ArchiveLink != "https://s3.aws/archive" || apiResp.Phase != "finished" {
		t.Fatalf("unexpected api response %+v", apiResp)
	}

	// Backend has nothing left for this address and answers 404.
	code, body = getBody(t, client, srv.URL+"/api/v1/collections/0xABC")
	if code != http.StatusBadGateway || !strings.Contains(body, "transport_error") {
		t.Fatalf("expected 502 transport_error, got %d %s", code, body)
	}

	code, body = getBody(t, client, srv.URL+"/api/v1/session")
	if code != http.StatusOK || !strings.Contains(body, "HTTP 404") || !strings.Contains(body, "https://s3.aws/archive") {
		t.Fatalf("session view should keep link and carry the error: %d %s", code, body)
	}

	// A fresh browser has its own idle session.
	other := &http.Client{}
	code, body = getBody(t, other, srv.URL+"/api/v1/session")
	if code != http.StatusOK || !strings.Contains(body, `"phase":"idle"`) {
		t.Fatalf("fresh session should be idle: %s", body)
	}

	code, _ = postBody(t, client, srv.URL+"/session/reset", nil)
	if code != http.StatusOK {
		t.Fatalf("reset (after redirect) status = %d", code)
	}
	_, body = getBody(t, client, srv.URL+"/api/v1/session")
	if !strings.Contains(body, `"phase":"idle"`) {
		t.Fatalf("session should be idle after reset: %s", body)
	}

	code, body = getBody(t, client, srv.URL+"/healthz")
	if code != http.StatusOK || !strings.Contains(body, "ok") {
		t.Fatalf("healthz: %d %s", code, body)
	}
	code, body = getBody(t, client, srv.URL+"/metrics")
	if code != http.StatusOK || !strings.Contains(body, "nftbatch_status_queries_total") {
		t.Fatalf("metrics missing status query counter")
	}
}

func TestHTTPIntegration_BackendDown(t *testing.T) {
	backendSrv := httptest.NewServer(http.NotFoundHandler())
	base := backendSrv.URL
	backendSrv.Close()

	srv, client := startApp(t, testConfig(base))
	code, body := postBody(t, client, srv.URL+"/collections", url.Values{"address": {"0xABC"}})
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !strings.Contains(body, "could not be reached") || !strings.Contains(body, "Retry") {
		t.Fatalf("expected error line with retry: %s", body)
	}
}

func TestHTTPIntegration_RedisStoreAndRateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	backend := &fakeBackend{replies: map[string][]string{
		"0xABC": {`{"status":"in-progress","s3Link":"https://s3/partial"}`, `{"status":"in-progress","s3Link":"https://s3/partial"}`},
	}}
	backendSrv := httptest.NewServer(backend)
	t.Cleanup(backendSrv.Close)

	cfg := testConfig(backendSrv.URL)
	cfg.SessionStore = "redis"
	cfg.RedisAddr = mr.Addr()
	cfg.RateLimit.Submit = ratelimit.Bucket{RequestsPerMinute: 1, BurstSize: 1}

	srv, client := startApp(t, cfg)

	code, body := getBody(t, client, srv.URL+"/api/v1/collections/0xABC")
	if code != http.StatusOK || !strings.Contains(body, "Some images have been downloaded!") {
		t.Fatalf("first submit: %d %s", code, body)
	}
	if len(mr.Keys()) == 0 {
		t.Fatal("expected session view in redis")
	}

	code, _ = getBody(t, client, srv.URL+"/api/v1/collections/0xABC")
	if code != http.StatusTooManyRequests {
		t.Fatalf("second submit status = %d, want 429", code)
	}

	// Reading the session is not rate limited.
	code, body = getBody(t, client, srv.URL+"/api/v1/session")
	if code != http.StatusOK || !strings.Contains(body, "https://s3/partial") {
		t.Fatalf("session: %d %s", code, body)
	}
}
