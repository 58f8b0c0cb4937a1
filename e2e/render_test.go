package e2e

import (
	"net/http"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestHealth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/health", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["ok"] != true {
		t.Errorf("expected ok=true, got %v", result["ok"])
	}
}

func TestCreateRender_Scenario(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/renders", `{"templateId": "orbital", "quality": "high"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)

	j := jobField(t, parseJSON(t, resp))
	id, _ := j["id"].(string)
	if id == "" {
		t.Fatal("expected job id")
	}
	if j["status"] != "queued" && j["status"] != "running" {
		t.Errorf("status = %v, want queued or running", j["status"])
	}
	if j["templateId"] != "orbital" || j["quality"] != "high" {
		t.Errorf("job echo = %v", j)
	}

	done := pollJob(t, ta, id, "success")
	if done["progress"] != float64(100) {
		t.Errorf("progress = %v, want 100", done["progress"])
	}
	outputFile, _ := done["outputFile"].(string)
	if !strings.HasPrefix(outputFile, "animation--orbital-high-") || !strings.HasSuffix(outputFile, ".mp4") {
		t.Errorf("outputFile = %q", outputFile)
	}
	outputURL, _ := done["outputUrl"].(string)
	if outputURL != "/output/"+outputFile {
		t.Errorf("outputUrl = %q", outputURL)
	}
	if done["error"] != nil {
		t.Errorf("error set on success: %v", done["error"])
	}
}

func TestCreateRender_DefaultsToHighQuality(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/renders", `{"templateId": "orbital"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)

	j := jobField(t, parseJSON(t, resp))
	if j["quality"] != "high" {
		t.Errorf("quality = %v, want high", j["quality"])
	}
}

func TestCreateRender_InvalidQuality(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/renders", `{"templateId": "orbital", "quality": "ultra"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)

	if code := errorCode(t, parseJSON(t, resp)); code != "INVALID_QUALITY" {
		t.Errorf("error code = %q, want INVALID_QUALITY", code)
	}

	// No job was admitted, so a valid create goes through immediately.
	resp, err = doRequest(ta.app, http.MethodPost, "/api/renders", `{"templateId": "orbital", "quality": "low"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
}

func TestCreateRender_MissingTemplateID(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/renders", `{"quality": "high"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestCreateRender_Conflict(t *testing.T) {
	ta := setupApp(t)
	block := make(chan struct{})
	ta.engine.blockRender = block

	resp, err := doRequest(ta.app, http.MethodPost, "/api/renders", `{"templateId": "orbital", "quality": "high"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	first := jobField(t, parseJSON(t, resp))
	firstID := first["id"].(string)

	resp, err = doRequest(ta.app, http.MethodPost, "/api/renders", `{"templateId": "demo", "quality": "low"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
	if code := errorCode(t, parseJSON(t, resp)); code != "RENDER_IN_PROGRESS" {
		t.Errorf("error code = %q, want RENDER_IN_PROGRESS", code)
	}

	// Cancelling the active job frees the slot.
	resp, err = doRequest(ta.app, http.MethodDelete, "/api/renders/"+firstID, "")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	pollJob(t, ta, firstID, "cancelled")

	resp, err = doRequest(ta.app, http.MethodPost, "/api/renders", `{"templateId": "demo", "quality": "low"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
}

func TestCreateRender_FailureRecordedOnJob(t *testing.T) {
	ta := setupApp(t)
	ta.engine.failWith = errEngineCrash

	resp, err := doRequest(ta.app, http.MethodPost, "/api/renders", `{"templateId": "orbital", "quality": "high"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	id := jobField(t, parseJSON(t, resp))["id"].(string)

	failed := pollJob(t, ta, id, "error")
	errObj, ok := failed["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("no error detail on failed job: %v", failed)
	}
	if errObj["code"] != "RENDER_FAILED" {
		t.Errorf("error code = %v, want RENDER_FAILED", errObj["code"])
	}
	if failed["outputFile"] != nil {
		t.Errorf("outputFile set on failed job: %v", failed["outputFile"])
	}
}

func TestRenderTwice_ReusesBundle(t *testing.T) {
	ta := setupApp(t)

	for _, template := range []string{"orbital", "orbital"} {
		resp, err := doRequest(ta.app, http.MethodPost, "/api/renders", `{"templateId": "`+template+`", "quality": "low"}`)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusCreated)
		id := jobField(t, parseJSON(t, resp))["id"].(string)
		pollJob(t, ta, id, "success")
	}

	if ta.engine.compiles != 1 {
		t.Errorf("bundle compiled %d times across two renders, want 1", ta.engine.compiles)
	}
}

func TestGetRender_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/renders/"+uuid.New().String(), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)

	if code := errorCode(t, parseJSON(t, resp)); code != "RENDER_NOT_FOUND" {
		t.Errorf("error code = %q, want RENDER_NOT_FOUND", code)
	}
}

func TestCancelRender_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodDelete, "/api/renders/"+uuid.New().String(), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestCancelRender_IdempotentAfterSuccess(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/renders", `{"templateId": "orbital", "quality": "medium"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	id := jobField(t, parseJSON(t, resp))["id"].(string)

	done := pollJob(t, ta, id, "success")

	for i := 0; i < 2; i++ {
		resp, err = doRequest(ta.app, http.MethodDelete, "/api/renders/"+id, "")
		if err != nil {
			t.Fatalf("cancel failed: %v", err)
		}
		assertStatus(t, resp, http.StatusOK)
		j := jobField(t, parseJSON(t, resp))
		if j["status"] != "success" {
			t.Errorf("cancel mutated terminal job: status %v", j["status"])
		}
		if j["outputFile"] != done["outputFile"] {
			t.Errorf("cancel changed output: %v vs %v", j["outputFile"], done["outputFile"])
		}
	}
}
