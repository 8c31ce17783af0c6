package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"

	"bazaar/internal/config"
	"bazaar/internal/http/handlers"
	"bazaar/internal/metrics"
	"bazaar/internal/repos"
	"bazaar/internal/services"
)

type testApp struct {
	app   *fiber.App
	db    *sqlx.DB
	users *repos.UserRepo
	m     *metrics.Registry
}

// newTestApp builds the full app on a fresh in-memory store and binds one
// session per seeded user: sid-alice, sid-bob, sid-carol and sid-admin.
func newTestApp(t *testing.T, opts handlers.Options) testApp {
	t.Helper()
	cfg := config.Config{DBDSN: ":memory:"}
	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	userRepo := repos.NewUserRepo(db)
	for _, u := range []string{"alice", "bob", "carol", "admin"} {
		if err := userRepo.BindSession("sid-"+u, "u-"+u); err != nil {
			t.Fatalf("bind session %s: %v", u, err)
		}
	}
	if opts.GlobalMax == 0 {
		opts.GlobalMax = 1000
	}
	m := metrics.NewRegistry()
	if opts.Metrics == nil {
		opts.Metrics = m.Handler()
	}
	authSvc := &services.AuthService{Users: userRepo}
	deps := handlers.NewDeps(db, cfg, authSvc, nil, m)
	return testApp{app: handlers.NewApp(deps, opts), db: db, users: userRepo, m: m}
}

// call sends a JSON request as the given session (empty for anonymous) and
// decodes the JSON response body, if any.
func (a testApp) call(t *testing.T, method, path, sid string, body any, hdr ...string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: "sid", Value: sid})
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := a.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	out := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp.StatusCode, out
}

func orderBody(lines ...map[string]any) map[string]any {
	return map[string]any{
		"items": lines,
		"shippingAddress": map[string]any{
			"name": "Alice", "line1": "1 Main St", "city": "College Park", "postalCode": "20742", "country": "US",
		},
		"paymentMethod": "CARD",
	}
}

func item(id string, qty int) map[string]any {
	return map[string]any{"productId": id, "qty": qty}
}

func extractCookie(resp *http.Response, name string) string {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

type logEntry struct {
	Level  string         `json:"level"`
	Action string         `json:"action"`
	Fields map[string]any `json:"fields"`
}

type lockedBuf struct {
	b  *bytes.Buffer
	mu *sync.Mutex
}

func (l *lockedBuf) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	var buf bytes.Buffer
	var mu sync.Mutex
	oldW := log.Writer()
	oldFlags := log.Flags()
	log.SetOutput(&lockedBuf{b: &buf, mu: &mu})
	log.SetFlags(0)
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var e logEntry
		if err := json.Unmarshal([]byte(line), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func hasAction(entries []logEntry, action string) bool {
	for _, e := range entries {
		if e.Action == action {
			return true
		}
	}
	return false
}
