package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Remotion drives the Node-based rendering engine through a helper script.
// Each call spawns one helper process; the helper writes JSON lines to stdout
// (progress events and a final result) and diagnostics to stderr.
type Remotion struct {
	Command string // node binary, usually "node"
	Script  string // path to the render helper script
}

// NewRemotion creates an engine adapter around the helper script.
func NewRemotion(command, script string) *Remotion {
	return &Remotion{
		Command: command,
		Script:  script,
	}
}

// IsConfigured reports whether the helper script is present.
func (r *Remotion) IsConfigured() bool {
	if r.Command == "" || r.Script == "" {
		return false
	}
	_, err := os.Stat(r.Script)
	return err == nil
}

// helperLine is one JSON line from the helper's stdout.
type helperLine struct {
	Type     string  `json:"type"`
	Location string  `json:"location,omitempty"`
	Message  string  `json:"message,omitempty"`
	Progress float64 `json:"progress,omitempty"`
	Rendered int     `json:"renderedFrames,omitempty"`
	Encoded  int     `json:"encodedFrames,omitempty"`
	Stage    string  `json:"stage,omitempty"`

	// composition lines report metadata inline
	FPS              int `json:"fps,omitempty"`
	DurationInFrames int `json:"durationInFrames,omitempty"`
	Width            int `json:"width,omitempty"`
	Height           int `json:"height,omitempty"`
}

func (r *Remotion) CompileBundle(ctx context.Context, entryPoint string) (string, error) {
	var location string
	err := r.run(ctx, []string{"bundle", "--entry", entryPoint}, nil, func(line helperLine) {
		if line.Type == "bundle" {
			location = line.Location
		}
	})
	if err != nil {
		return "", fmt.Errorf("compile bundle: %w", err)
	}
	if location == "" {
		return "", fmt.Errorf("compile bundle: helper produced no bundle location")
	}
	return location, nil
}

func (r *Remotion) ResolveComposition(ctx context.Context, bundleLocation, compositionID string, inputProps map[string]string, port int) (*Composition, error) {
	props, err := json.Marshal(inputProps)
	if err != nil {
		return nil, fmt.Errorf("resolve composition: encode input props: %w", err)
	}

	args := []string{
		"composition",
		"--bundle", bundleLocation,
		"--composition", compositionID,
		"--props", string(props),
		"--port", strconv.Itoa(port),
	}

	var comp *Composition
	err = r.run(ctx, args, nil, func(line helperLine) {
		if line.Type == "composition" {
			comp = &Composition{
				FPS:              line.FPS,
				DurationInFrames: line.DurationInFrames,
				Width:            line.Width,
				Height:           line.Height,
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("resolve composition: %w", err)
	}
	if comp == nil {
		return nil, fmt.Errorf("resolve composition %q: helper returned no metadata", compositionID)
	}
	return comp, nil
}

func (r *Remotion) RenderToFile(ctx context.Context, spec RenderSpec, progress chan<- ProgressEvent) error {
	props, err := json.Marshal(map[string]string{"templateId": spec.TemplateID})
	if err != nil {
		return fmt.Errorf("render: encode input props: %w", err)
	}

	codec := spec.Codec
	if codec == "" {
		codec = "h264"
	}

	args := []string{
		"render",
		"--bundle", spec.BundleLocation,
		"--composition", spec.CompositionID,
		"--output", spec.OutputPath,
		"--codec", codec,
		"--crf", strconv.Itoa(spec.CRF),
		"--concurrency", strconv.Itoa(spec.Concurrency),
		"--timeout", strconv.FormatInt(spec.Timeout.Milliseconds(), 10),
		"--port", strconv.Itoa(spec.Port),
		"--props", string(props),
	}

	env := []string{"MEMORY_LIMIT=" + strconv.Itoa(spec.MemoryLimitMB)}

	return r.run(ctx, args, env, func(line helperLine) {
		if line.Type != "progress" || progress == nil {
			return
		}
		progress <- ProgressEvent{
			Progress:       line.Progress,
			RenderedFrames: line.Rendered,
			EncodedFrames:  line.Encoded,
			Stage:          line.Stage,
		}
	})
}

// run spawns the helper with ctx-based cooperative cancellation. The helper
// gets SIGINT first so the renderer can shut down its backend cleanly; a hard
// kill follows only if it lingers past the wait delay.
func (r *Remotion) run(ctx context.Context, args []string, extraEnv []string, onLine func(helperLine)) error {
	cmd := exec.CommandContext(ctx, r.Command, append([]string{r.Script}, args...)...)
	cmd.Env = append(os.Environ(), extraEnv...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGINT)
	}
	cmd.WaitDelay = 10 * time.Second

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return err
	}

	var helperErr error
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		var line helperLine
		if err := json.Unmarshal(raw, &line); err != nil {
			continue
		}
		if line.Type == "error" {
			helperErr = fmt.Errorf("%s", line.Message)
			continue
		}
		onLine(line)
	}

	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return fmt.Errorf("render helper: %w", ctx.Err())
	}
	if helperErr != nil {
		return helperErr
	}
	if waitErr != nil {
		if tail := stderrTail(stderrBuf.String()); tail != "" {
			return fmt.Errorf("render helper: %w: %s", waitErr, tail)
		}
		return fmt.Errorf("render helper: %w", waitErr)
	}
	return scanner.Err()
}

// stderrTail keeps the last few stderr lines for error reporting.
func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > 5 {
		lines = lines[len(lines)-5:]
	}
	return strings.Join(lines, " | ")
}
