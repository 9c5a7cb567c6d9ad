package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/narrator/internal/core/domain"
	"github.com/vietddude/narrator/internal/infra/rpc/provider"
	"github.com/vietddude/narrator/internal/narration/health"
)

type stubSynth struct {
	limited map[string]bool
}

func (s *stubSynth) Synthesize(ctx context.Context, secret string, line domain.ScriptLine, p provider.Params) (*domain.Artifact, error) {
	if s.limited[line.Text] {
		return nil, &provider.RemoteError{StatusCode: 429, Message: "quota exceeded", RetryAfter: 30 * time.Second}
	}
	return &domain.Artifact{MIMEType: "audio/wav", Data: []byte("RIFF" + line.Text)}, nil
}

func newTestNarrator(t *testing.T, synth provider.Synthesizer) (*Narrator, string) {
	t.Helper()
	out := t.TempDir()
	cfg := Config{
		Keys:           []string{"AIzaSyTESTKEY0001"},
		IdentityPrefix: 8,
	}
	cfg.Batch.OutputDir = out
	noRetries := 0
	cfg.Executor.MaxRetries = &noRetries

	n, err := NewNarrator(cfg, synth)
	if err != nil {
		t.Fatalf("NewNarrator failed: %v", err)
	}
	t.Cleanup(func() { n.Close() })
	return n, out
}

func TestNarrator_RunScript(t *testing.T) {
	synth := &stubSynth{limited: map[string]bool{"second": true}}
	n, out := newTestNarrator(t, synth)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "episode.json")
	content := `[{"timestamp":"00:00","text":"first"},{"timestamp":"00:04","text":"second"},{"timestamp":"00:09","text":" "}]`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	summary, err := n.RunScript(ctx, path)
	if err != nil {
		t.Fatalf("RunScript failed: %v", err)
	}
	want := domain.Summary{Total: 3, Succeeded: 1, Failed: 1, Skipped: 1}
	if summary != want {
		t.Errorf("summary = %+v, want %+v", summary, want)
	}

	runID := n.Orchestrator().RunID()
	data, err := os.ReadFile(filepath.Join(out, runID, "0.wav"))
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	if string(data) != "RIFFfirst" {
		t.Errorf("artifact = %q", data)
	}

	run, err := n.runRepo.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("run not stored: %v", err)
	}
	if run.Source != "episode.json" || len(run.Lines) != 3 {
		t.Errorf("unexpected run: %+v", run)
	}

	items, _ := n.runRepo.GetItems(ctx, runID)
	if len(items) != 2 {
		t.Fatalf("expected 2 item records, got %d", len(items))
	}
	if items[1].State != domain.ItemFailed || items[1].RetryAt == nil {
		t.Errorf("failed item not recorded with retry time: %+v", items[1])
	}

	queued, _ := n.failedRepo.GetAll(ctx)
	if len(queued) != 1 || queued[0].Index != 1 {
		t.Fatalf("expected item 1 queued, got %+v", queued)
	}

	report := n.HealthReport(ctx)
	if report.Status != health.StatusDegraded {
		t.Errorf("health = %s, want degraded while the only key cools down", report.Status)
	}
	if report.FailedQueue != 1 {
		t.Errorf("failed queue = %d, want 1", report.FailedQueue)
	}
}

func TestNarrator_RetryResolvesQueue(t *testing.T) {
	synth := &stubSynth{limited: map[string]bool{"only": true}}
	n, _ := newTestNarrator(t, synth)
	ctx := context.Background()

	if _, err := n.Run(ctx, "inline", []domain.ScriptLine{{Text: "only"}}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if c, _ := n.failedRepo.Count(ctx); c != 1 {
		t.Fatalf("expected 1 queued item, got %d", c)
	}

	synth.limited["only"] = false
	st, err := n.Orchestrator().RetryOne(ctx, 0)
	if err != nil {
		t.Fatalf("RetryOne failed: %v", err)
	}
	if st.State != domain.ItemSucceeded {
		t.Fatalf("state = %s, want succeeded", st.State)
	}
	if c, _ := n.failedRepo.Count(ctx); c != 0 {
		t.Errorf("expected queue resolved, %d left", c)
	}
}

func TestArtifactSink_NilArtifact(t *testing.T) {
	sink := NewArtifactSink(t.TempDir())
	if _, err := sink.Write("run", 0, nil); err == nil {
		t.Error("expected error for nil artifact")
	}
}
