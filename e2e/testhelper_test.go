package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bikaxh01/toothsi-bot/internal/client"
	"github.com/bikaxh01/toothsi-bot/internal/config"
	"github.com/bikaxh01/toothsi-bot/internal/handler"
	"github.com/bikaxh01/toothsi-bot/internal/logging"
	"github.com/bikaxh01/toothsi-bot/internal/middleware"
	"github.com/bikaxh01/toothsi-bot/internal/poller"
	"github.com/bikaxh01/toothsi-bot/internal/service"
	"github.com/bikaxh01/toothsi-bot/internal/testutil"
	"github.com/bikaxh01/toothsi-bot/internal/tracker"
	"github.com/bikaxh01/toothsi-bot/internal/viewstate"
	ws "github.com/bikaxh01/toothsi-bot/internal/websocket"
	"github.com/bikaxh01/toothsi-bot/pkg/response"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testPasscode  = "open-sesame"
)

// testApp holds all components needed for testing
type testApp struct {
	app       *fiber.App
	remote    *testutil.FakeRemote
	scheduler *poller.Scheduler
	tracker   *tracker.Tracker
}

// setupApp wires the same routes as main.go against a fake remote batch
// service. Redis is not used: no rate limits, in-memory redial journal,
// inline redials.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	remote := testutil.NewFakeRemote()
	t.Cleanup(remote.Close)

	log := logging.Discard()
	validate := validator.New()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := ws.NewHub(log)
	go hub.Run(ctx)

	api := client.NewBatchClient(&config.RemoteConfig{BaseURL: remote.URL(), Timeout: 5}, log)

	redials := tracker.New()
	store := viewstate.New(redials)
	store.SetPublisher(func(snap viewstate.Snapshot) {
		hub.BroadcastView(snap.BatchID, snap)
	})

	syncService := service.NewSyncService(api, store, log)
	// Long interval: only the immediate fetch of each cycle happens.
	scheduler := poller.New(syncService.Refresh, time.Hour, log)
	t.Cleanup(scheduler.Stop)
	batchService := service.NewBatchService(api, store, scheduler, syncService, log)
	uploadService := service.NewUploadService(api, nil, store, batchService, log)
	redialService := service.NewRedialService(api, redials, store, syncService, service.NewMemoryJournal(), hub, nil, log)

	authMiddleware := middleware.NewAuthMiddleware(nil, testJWTSecret)
	routes := &handler.Routes{
		Health:       handler.NewHealthHandler(api, fiber.Map{"redis": false, "storage": false}),
		Auth:         handler.NewAuthHandler(authMiddleware, testJWTSecret, testPasscode, time.Hour, validate, log),
		Upload:       handler.NewUploadHandler(uploadService),
		Batch:        handler.NewBatchHandler(batchService, validate),
		Redial:       handler.NewRedialHandler(redialService, validate),
		Socket:       handler.NewSocketHandler(hub, batchService, validate),
		Authenticate: authMiddleware.Authenticate(),
		RateLimiter:  middleware.NewRateLimiter(nil, log),
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: response.ErrorHandler,
		BodyLimit:    int(service.MaxUploadSize) + 1<<20,
	})
	routes.Register(app)

	return &testApp{
		app:       app,
		remote:    remote,
		scheduler: scheduler,
		tracker:   redials,
	}
}

// login opens a console session and returns its token.
func login(t *testing.T, app *fiber.App) string {
	t.Helper()

	resp, err := doRequest(app, http.MethodPost, "/auth/login",
		`{"passcode":"`+testPasscode+`","operator":"priya"}`, nil)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	body := parseJSON(t, resp)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("login returned no token: %v", body)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := login(t, app)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// uploadRequest builds an authenticated multipart upload of one file.
func uploadRequest(t *testing.T, token, fileName string, content []byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	_, _ = part.Write(content)
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, "/api/upload", &buf)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode returns error.code of an error envelope.
func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

// viewCallIDs fetches /api/view and returns the batch id and call ids.
func viewCallIDs(t *testing.T, app *fiber.App, token string) (string, []string) {
	t.Helper()

	resp, err := doRequest(app, http.MethodGet, "/api/view", "", map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	data := parseJSON(t, resp)
	batchID, _ := data["batchId"].(string)
	calls, _ := data["calls"].([]interface{})
	ids := make([]string, 0, len(calls))
	for _, c := range calls {
		m, _ := c.(map[string]interface{})
		id, _ := m["id"].(string)
		ids = append(ids, id)
	}
	return batchID, ids
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
