package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	dataextract "github.com/ConvoSphere/DataExtract"
	"github.com/ConvoSphere/DataExtract/engine"
	"github.com/ConvoSphere/DataExtract/id"
	"github.com/ConvoSphere/DataExtract/job"
	"github.com/ConvoSphere/DataExtract/store/memory"
)

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

func fastConfig() dataextract.Config {
	cfg := dataextract.DefaultConfig()
	cfg.Concurrency = 2
	cfg.PollInterval = 20 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.StaleJobThreshold = 200 * time.Millisecond
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func startedEngine(t *testing.T, cfg dataextract.Config, opts ...engine.Option) *engine.Engine {
	t.Helper()

	opts = append([]engine.Option{
		engine.WithStore(memory.New()),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)

	eng, err := engine.Build(cfg, opts...)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return eng
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_RequiresStore(t *testing.T) {
	t.Parallel()

	_, err := engine.Build(dataextract.DefaultConfig())
	if !errors.Is(err, dataextract.ErrNoStore) {
		t.Fatalf("Build without store: err = %v, want ErrNoStore", err)
	}
}

// ──────────────────────────────────────────────────
// End-to-end: Submit → Await → Result
// ──────────────────────────────────────────────────

func TestEngine_EndToEnd_SubmitAwaitResult(t *testing.T) {
	eng := startedEngine(t, fastConfig())
	ctx := context.Background()

	res, err := eng.Submit(ctx, engine.SubmitRequest{
		Owner:    "alice",
		Filename: "notes.txt",
		Content:  []byte("the quick brown fox jumps over the lazy dog"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Cached != nil {
		t.Fatal("first submission reported a cache hit")
	}
	if res.Job.Status != job.StatusQueued {
		t.Fatalf("submitted job status = %q, want queued", res.Job.Status)
	}

	done, err := eng.Await(ctx, res.Job.ID, 5*time.Second)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if done.Status != job.StatusCompleted {
		t.Fatalf("awaited status = %q (error: %+v), want completed", done.Status, done.Error)
	}
	if done.Progress == nil || *done.Progress != 100 {
		t.Errorf("completed progress = %v, want 100", done.Progress)
	}

	entry, err := eng.Result(ctx, res.Job.ID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if entry.Result == nil || entry.Result.Text == nil {
		t.Fatal("result entry carries no text")
	}
	if entry.Result.Text.WordCount != 9 {
		t.Errorf("word count = %d, want 9", entry.Result.Text.WordCount)
	}
}

func TestEngine_Submit_CacheHitServedInline(t *testing.T) {
	eng := startedEngine(t, fastConfig())
	ctx := context.Background()
	content := []byte("cached once, served twice")

	first, err := eng.Submit(ctx, engine.SubmitRequest{
		Owner:    "alice",
		Filename: "doc.txt",
		Content:  content,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := eng.Await(ctx, first.Job.ID, 5*time.Second); err != nil {
		t.Fatalf("Await: %v", err)
	}

	// Same bytes from a different caller: no job, inline entry.
	second, err := eng.Submit(ctx, engine.SubmitRequest{
		Owner:    "bob",
		Filename: "copy.txt",
		Content:  content,
	})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.Cached == nil {
		t.Fatal("identical content did not hit the cache")
	}
	if second.Job != nil {
		t.Error("cache hit still created a job")
	}
	if second.Cached.Fingerprint != first.Job.Fingerprint {
		t.Errorf("fingerprints diverged: %q vs %q", second.Cached.Fingerprint, first.Job.Fingerprint)
	}
}

// ──────────────────────────────────────────────────
// Submission validation
// ──────────────────────────────────────────────────

func TestEngine_Submit_Rejections(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxFileSize = 16
	eng := startedEngine(t, cfg)
	ctx := context.Background()

	cases := []struct {
		name string
		req  engine.SubmitRequest
		want error
	}{
		{
			name: "empty content",
			req:  engine.SubmitRequest{Owner: "alice", Filename: "a.txt"},
			want: dataextract.ErrValidation,
		},
		{
			name: "oversized content",
			req: engine.SubmitRequest{
				Owner:    "alice",
				Filename: "big.txt",
				Content:  []byte("well over the sixteen byte ceiling"),
			},
			want: dataextract.ErrFileTooLarge,
		},
		{
			name: "unsupported format",
			req: engine.SubmitRequest{
				Owner:    "alice",
				Filename: "image.png",
				Content:  []byte("not really a png"),
			},
			want: dataextract.ErrUnsupportedFormat,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.Submit(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Submit: err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestEngine_Submit_RateLimited(t *testing.T) {
	cfg := fastConfig()
	cfg.RateLimit = 2
	eng := startedEngine(t, cfg)
	ctx := context.Background()

	var limited bool
	for i := range 4 {
		_, err := eng.Submit(ctx, engine.SubmitRequest{
			Owner:    "greedy",
			Filename: "f.txt",
			Content:  fmt.Appendf(nil, "unique payload %d", i),
		})
		if errors.Is(err, dataextract.ErrRateLimited) {
			limited = true
			break
		}
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	if !limited {
		t.Fatal("four unique submissions at limit 2 never hit the rate limiter")
	}
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

func TestEngine_Cancel(t *testing.T) {
	eng := startedEngine(t, fastConfig())
	ctx := context.Background()

	res, err := eng.Submit(ctx, engine.SubmitRequest{
		Owner:    "alice",
		Filename: "slow.txt",
		Content:  []byte("payload that may or may not run before the cancel lands"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if _, err := eng.Cancel(ctx, res.Job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	done, err := eng.Await(ctx, res.Job.ID, 5*time.Second)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !done.Status.Terminal() {
		t.Fatalf("post-cancel status = %q, want terminal", done.Status)
	}

	// Terminal jobs refuse further cancels.
	accepted, err := eng.Cancel(ctx, res.Job.ID)
	if err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
	if accepted {
		t.Error("cancel accepted on a terminal job")
	}
}

// ──────────────────────────────────────────────────
// Status, Stats, Health
// ──────────────────────────────────────────────────

func TestEngine_Result_NotCompleted(t *testing.T) {
	cfg := fastConfig()
	cfg.Concurrency = 1
	eng := startedEngine(t, cfg)
	ctx := context.Background()

	_, err := eng.Result(ctx, id.NewJobID())
	if !errors.Is(err, dataextract.ErrJobNotFound) {
		t.Fatalf("Result for unknown job: err = %v, want ErrJobNotFound", err)
	}
}

func TestEngine_StatsAndHealth(t *testing.T) {
	eng := startedEngine(t, fastConfig())
	ctx := context.Background()

	if err := eng.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}

	res, err := eng.Submit(ctx, engine.SubmitRequest{
		Owner:    "alice",
		Filename: "stats.txt",
		Content:  []byte("content for the stats snapshot"),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := eng.Await(ctx, res.Job.ID, 5*time.Second); err != nil {
		t.Fatalf("Await: %v", err)
	}

	stats, err := eng.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total == 0 {
		t.Error("stats report zero jobs after a submission")
	}
	if stats.Jobs[job.StatusCompleted] == 0 {
		t.Error("stats report zero completed jobs")
	}
}
