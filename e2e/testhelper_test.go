package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/animastudio/render-api/internal/bundle"
	"github.com/animastudio/render-api/internal/engine"
	"github.com/animastudio/render-api/internal/handler"
	"github.com/animastudio/render-api/internal/job"
	"github.com/animastudio/render-api/internal/render"
)

// fakeEngine implements engine.Engine for end-to-end tests. Renders complete
// immediately unless blocked; blocked renders honour context cancellation.
type fakeEngine struct {
	mu          sync.Mutex
	blockRender chan struct{}
	failWith    error
	compiles    int
}

func (f *fakeEngine) CompileBundle(ctx context.Context, entryPoint string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compiles++
	return "/tmp/fake-bundle", nil
}

func (f *fakeEngine) ResolveComposition(ctx context.Context, bundleLocation, compositionID string, inputProps map[string]string, port int) (*engine.Composition, error) {
	return &engine.Composition{FPS: 60, DurationInFrames: 600, Width: 1080, Height: 1920}, nil
}

func (f *fakeEngine) RenderToFile(ctx context.Context, spec engine.RenderSpec, progress chan<- engine.ProgressEvent) error {
	progress <- engine.ProgressEvent{Progress: 0.5, RenderedFrames: 300, Stage: "rendering"}

	f.mu.Lock()
	block := f.blockRender
	failWith := f.failWith
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failWith != nil {
		return failWith
	}

	progress <- engine.ProgressEvent{Progress: 1, RenderedFrames: 600, EncodedFrames: 600, Stage: "encoding"}
	return nil
}

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	engine *fakeEngine
}

// setupApp creates a Fiber app wired like main.go but with a fake engine and
// fast sweeps.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	eng := &fakeEngine{}

	entry := filepath.Join(t.TempDir(), "index.tsx")
	if err := os.WriteFile(entry, []byte("export {};\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	bundles := bundle.NewCache(eng, entry)
	executor := render.NewExecutor(eng, bundles, "MyVideo", 3100)

	store := job.NewStore()
	orchestrator := job.NewOrchestrator(store, executor, nil, job.Config{
		OutputDir:     t.TempDir(),
		Concurrency:   1,
		Timeout:       time.Minute,
		MemoryLimitMB: 512,
		SweepInterval: 50 * time.Millisecond,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = orchestrator.Shutdown(ctx)
	})

	validate := validator.New()
	renderHandler := handler.NewRenderHandler(orchestrator, validate)

	app := fiber.New()

	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})

	api := app.Group("/api")
	api.Post("/renders", renderHandler.Create)
	api.Get("/renders/:id", renderHandler.Get)
	api.Delete("/renders/:id", renderHandler.Cancel)

	return &testApp{app: app, engine: eng}
}

func doRequest(app *fiber.App, method, path, body string) (*http.Response, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return app.Test(req, -1)
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("failed to parse JSON %q: %v", data, err)
	}
	return result
}

func assertStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d", resp.StatusCode, want)
	}
}

func jobField(t *testing.T, result map[string]interface{}) map[string]interface{} {
	t.Helper()
	j, ok := result["job"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no job object: %v", result)
	}
	return j
}

func errorCode(t *testing.T, result map[string]interface{}) string {
	t.Helper()
	e, ok := result["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no error object: %v", result)
	}
	code, _ := e["code"].(string)
	return code
}

// pollJob polls GET /api/renders/:id until the job reaches want.
func pollJob(t *testing.T, ta *testApp, id, want string) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		resp, err := doRequest(ta.app, http.MethodGet, "/api/renders/"+id, "")
		if err != nil {
			t.Fatalf("poll failed: %v", err)
		}
		result := parseJSON(t, resp)
		last = jobField(t, result)
		if last["status"] == want {
			return last
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s, last: %v", id, want, last)
	return nil
}

var errEngineCrash = errors.New("renderer backend crashed")
