// Package render performs exactly one end-to-end render per call: bundle,
// composition resolution, frame rendering, progress adaptation.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/animastudio/render-api/internal/bundle"
	"github.com/animastudio/render-api/internal/engine"
	"github.com/animastudio/render-api/internal/model"
)

// qualityCRF maps the coarse quality level to the encoder's CRF knob.
var qualityCRF = map[model.Quality]int{
	model.QualityHigh:   18,
	model.QualityMedium: 23,
	model.QualityLow:    28,
}

// gcFrameInterval is the minimum number of newly rendered frames between two
// memory reclamation passes during a render.
const gcFrameInterval = 100

// Known libuv defect on some Node setups: network interface enumeration fails
// inside the renderer backend. The raw message is useless without remediation.
const interfaceEnumDefect = "uv_interface_addresses"

const interfaceEnumRemedy = "Try using Node.js LTS (22.x) and set RENDER_ENGINE_PORT=3100 before running."

var templateIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// CRFForQuality resolves the encoding parameter for a quality level. Unknown
// levels fail with a listing of allowed values.
func CRFForQuality(q model.Quality) (int, error) {
	crf, ok := qualityCRF[q]
	if !ok {
		allowed := make([]string, 0, len(qualityCRF))
		for k := range qualityCRF {
			allowed = append(allowed, string(k))
		}
		sort.Strings(allowed)
		return 0, fmt.Errorf("invalid quality %q, allowed values: %s", q, strings.Join(allowed, ", "))
	}
	return crf, nil
}

// StartInfo is handed to the OnStart hook once composition metadata and
// encoding parameters are known. Observability only, never a control gate.
type StartInfo struct {
	CompositionID string
	Composition   engine.Composition
	OutputPath    string
	Filename      string
	Quality       model.Quality
	CRF           int
	Concurrency   int
}

// Params configures a single render.
type Params struct {
	TemplateID    string
	Quality       model.Quality
	OutputDir     string
	Concurrency   int
	Timeout       time.Duration
	MemoryLimitMB int
	ForceRebundle bool
	OnStart       func(StartInfo)
	OnProgress    func(engine.ProgressEvent)
}

// Result is the outcome tuple of a successful render.
type Result struct {
	OutputPath string
	Filename   string
	Quality    model.Quality
	TemplateID string
	CRF        int
}

// Executor drives the engine through single renders using the bundle cache.
type Executor struct {
	engine        engine.Engine
	bundles       *bundle.Cache
	compositionID string
	port          int
}

// NewExecutor creates an executor bound to one composition of one bundle.
func NewExecutor(eng engine.Engine, bundles *bundle.Cache, compositionID string, port int) *Executor {
	return &Executor{
		engine:        eng,
		bundles:       bundles,
		compositionID: compositionID,
		port:          port,
	}
}

// Render performs one end-to-end render. Cancellation arrives through ctx;
// a cancelled render surfaces as an error satisfying errors.Is(err,
// context.Canceled), the caller decides how to classify it.
func (e *Executor) Render(ctx context.Context, p Params) (*Result, error) {
	if strings.TrimSpace(p.TemplateID) == "" {
		return nil, fmt.Errorf("templateId must be a non-empty string")
	}

	crf, err := CRFForQuality(p.Quality)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(p.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", p.OutputDir, err)
	}

	// Bound peak memory against leftovers from any prior render.
	freeMemory()

	filename := buildOutputFilename(p.TemplateID, p.Quality)
	outputPath := filepath.Join(p.OutputDir, filename)

	location, err := e.bundles.Location(ctx, p.ForceRebundle)
	if err != nil {
		return nil, err
	}

	comp, err := e.engine.ResolveComposition(ctx, location, e.compositionID, map[string]string{"templateId": p.TemplateID}, e.port)
	if err != nil {
		return nil, normalizeEngineError(err)
	}

	if p.OnStart != nil {
		p.OnStart(StartInfo{
			CompositionID: e.compositionID,
			Composition:   *comp,
			OutputPath:    outputPath,
			Filename:      filename,
			Quality:       p.Quality,
			CRF:           crf,
			Concurrency:   p.Concurrency,
		})
	}

	spec := engine.RenderSpec{
		Composition:    *comp,
		CompositionID:  e.compositionID,
		BundleLocation: location,
		OutputPath:     outputPath,
		TemplateID:     p.TemplateID,
		Codec:          "h264",
		CRF:            crf,
		Concurrency:    p.Concurrency,
		Timeout:        p.Timeout,
		MemoryLimitMB:  p.MemoryLimitMB,
		Port:           e.port,
	}

	events := make(chan engine.ProgressEvent, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		lastGCFrame := 0
		for ev := range events {
			if ev.RenderedFrames-lastGCFrame >= gcFrameInterval {
				freeMemory()
				lastGCFrame = ev.RenderedFrames
			}
			if p.OnProgress != nil {
				p.OnProgress(ev)
			}
		}
	}()

	renderErr := e.engine.RenderToFile(ctx, spec, events)
	close(events)
	wg.Wait()

	if renderErr != nil {
		return nil, normalizeEngineError(renderErr)
	}

	freeMemory()

	return &Result{
		OutputPath: outputPath,
		Filename:   filename,
		Quality:    p.Quality,
		TemplateID: p.TemplateID,
		CRF:        crf,
	}, nil
}

// buildOutputFilename constructs the deterministic output name:
// animation--{sanitizedTemplateId}-{quality}-{unixMillis}.mp4
func buildOutputFilename(templateID string, quality model.Quality) string {
	safe := templateIDSanitizer.ReplaceAllString(templateID, "_")
	return fmt.Sprintf("animation--%s-%s-%d.mp4", safe, quality, time.Now().UnixMilli())
}

// normalizeEngineError appends remediation text to the known interface
// enumeration defect; everything else passes through unchanged.
func normalizeEngineError(err error) error {
	if strings.Contains(err.Error(), interfaceEnumDefect) {
		return fmt.Errorf("%w. %s", err, interfaceEnumRemedy)
	}
	return err
}

// freeMemory runs a best-effort reclamation pass and returns memory to the OS.
func freeMemory() {
	debug.FreeOSMemory()
}
