package io

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/williampepple1/lead-tracker/internal/analyzer"
	"github.com/williampepple1/lead-tracker/internal/behavior"
	"github.com/williampepple1/lead-tracker/internal/tracker"
	"github.com/williampepple1/lead-tracker/pkg/models"
)

const script = `# visitor lands on a listing
{"type":"load","url":"https://homes.example.com/property/1001"}
{"type":"move","x":10,"y":20}

{"type":"scroll","depth":55}
{"type":"focus","field":{"tag":"input","type":"email","name":"email"}}
{"type":"input","field":{"tag":"input","type":"email","name":"email","value":"jane@example.com"}}
{"type":"click","target":{"tag":"a","class":"contact-agent"}}
{"type":"wait","duration":"90s"}
{"type":"idle_check"}
{"type":"hide"}
{"type":"show"}
{"type":"analyze"}
{"type":"unload"}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadFromFile(t *testing.T) {
	steps, err := NewScriptReader().ReadFromFile(writeFile(t, "visit.jsonl", script))
	require.NoError(t, err)

	require.Len(t, steps, 12)
	assert.Equal(t, StepLoad, steps[0].Type)
	assert.Equal(t, 55.0, steps[2].Depth)
	assert.Equal(t, "jane@example.com", steps[4].Field.Value)
	assert.Equal(t, 90*time.Second, steps[6].Duration())
}

func TestReadFromFile_Errors(t *testing.T) {
	r := NewScriptReader()

	_, err := r.ReadFromFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	assert.Error(t, err)

	for name, content := range map[string]string{
		"unknown type": `{"type":"teleport"}`,
		"load no url":  `{"type":"load"}`,
		"click no tgt": `{"type":"click"}`,
		"bad duration": `{"type":"wait","duration":"soon"}`,
		"malformed":    `{"type":`,
		"input no fld": `{"type":"input"}`,
	} {
		_, err := r.ReadFromFile(writeFile(t, "bad.jsonl", content))
		assert.Error(t, err, name)
	}
}

// fakeTarget records the calls made by the replayer
type fakeTarget struct {
	calls   []string
	loadErr error
}

func (f *fakeTarget) LoadPage(_ context.Context, url string) (tracker.View, error) {
	f.calls = append(f.calls, "load")
	if f.loadErr != nil {
		return tracker.View{}, f.loadErr
	}
	return tracker.View{URL: url}, nil
}

func (f *fakeTarget) MouseMove(x, y float64) { f.calls = append(f.calls, "move") }

func (f *fakeTarget) Focus(behavior.FormField) { f.calls = append(f.calls, "focus") }

func (f *fakeTarget) Scroll(float64) { f.calls = append(f.calls, "scroll") }

func (f *fakeTarget) Visibility(hidden bool) { f.calls = append(f.calls, "visibility") }

func (f *fakeTarget) Unload(context.Context) { f.calls = append(f.calls, "unload") }

func (f *fakeTarget) CheckIdle() bool {
	f.calls = append(f.calls, "idle")
	return true
}

func (f *fakeTarget) Input(context.Context, behavior.FormField) bool {
	f.calls = append(f.calls, "input")
	return true
}

func (f *fakeTarget) Click(behavior.ClickTarget) behavior.ClickCategory {
	f.calls = append(f.calls, "click")
	return behavior.ClickContact
}

func (f *fakeTarget) Analyze(context.Context) analyzer.Result {
	f.calls = append(f.calls, "analyze")
	return analyzer.Result{}
}

func TestReplayer_Run(t *testing.T) {
	steps, err := NewScriptReader().ReadFromFile(writeFile(t, "visit.jsonl", script))
	require.NoError(t, err)

	target := &fakeTarget{}
	var slept time.Duration
	r := NewReplayer(target, nil)
	r.Sleep = func(_ context.Context, d time.Duration) error {
		slept += d
		return nil
	}

	views, err := r.Run(context.Background(), steps)
	require.NoError(t, err)

	require.Len(t, views, 1)
	assert.Equal(t, "https://homes.example.com/property/1001", views[0].URL)
	assert.Equal(t, 90*time.Second, slept)
	assert.Equal(t, []string{
		"load", "move", "scroll", "focus", "input", "click",
		"idle", "visibility", "visibility", "analyze", "unload",
	}, target.calls)
}

func TestReplayer_StopsOnLoadError(t *testing.T) {
	boom := errors.New("connection reset")
	target := &fakeTarget{loadErr: boom}

	_, err := NewReplayer(target, nil).Run(context.Background(), []Step{
		{Type: StepLoad, URL: "https://homes.example.com/"},
		{Type: StepAnalyze},
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"load"}, target.calls)
}

func TestReplayer_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewReplayer(&fakeTarget{}, nil).Run(ctx, []Step{{Type: StepAnalyze}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestReportWriter(t *testing.T) {
	report := tracker.Report{
		SessionID: "sess_1",
		Session:   models.SessionState{PageViews: 2, EngagementScore: 17},
	}

	jsonPath := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, NewReportWriter(jsonPath, "json").SaveToFile(report))
	raw, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	var decoded tracker.Report
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "sess_1", decoded.SessionID)
	assert.Equal(t, 17, decoded.Session.EngagementScore)

	yamlPath := filepath.Join(t.TempDir(), "report.yaml")
	require.NoError(t, NewReportWriter(yamlPath, "yaml").SaveToFile(report))
	raw, err = os.ReadFile(yamlPath)
	require.NoError(t, err)
	var generic map[string]interface{}
	require.NoError(t, yaml.Unmarshal(raw, &generic))
	assert.Equal(t, "sess_1", generic["session_id"])

	assert.Error(t, NewReportWriter(jsonPath, "csv").SaveToFile(report))
}

func TestEventLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := OpenEventLog(path)
	require.NoError(t, err)
	require.NoError(t, log.Append(models.EventEnvelope{ID: "a", Type: "page_view"}))
	require.NoError(t, log.Append(models.EventEnvelope{ID: "b", Type: "click"}))
	require.NoError(t, log.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var types []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var env models.EventEnvelope
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
		types = append(types, env.Type)
	}
	assert.Equal(t, []string{"page_view", "click"}, types)
}
