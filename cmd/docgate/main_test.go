package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/docgate/internal/cli"
	"github.com/hyperjump/docgate/internal/config"
	"github.com/hyperjump/docgate/internal/ingest"
	"github.com/hyperjump/docgate/internal/models"
	"github.com/hyperjump/docgate/internal/search"
	"github.com/hyperjump/docgate/internal/server"
	"github.com/hyperjump/docgate/internal/storage"
)

func TestLoadConfig_explicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docgate.yaml")
	data := "storage:\n  backend: sqlite\n  database_path: ./data/docs.db\ncache:\n  backend: none\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != path {
		t.Errorf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "data", "docs.db") {
		t.Errorf("database_path = %q", cfg.Storage.DatabasePath)
	}
	if cfg.Ingest.BatchSize != 500 {
		t.Errorf("batch_size default = %d", cfg.Ingest.BatchSize)
	}
}

func TestLoadConfig_missingFile(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestInitializeComponents_memory(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.Backend = "memory"
	cfg.Cache.Backend = "none"
	c, err := initializeComponents(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Engine == nil || c.Mutations == nil || c.Pipeline == nil {
		t.Fatalf("components = %+v", c)
	}
	if _, err := c.Engine.List(context.Background(), search.ListRequest{Database: "db", Collection: "c"}, search.ProductList); err != nil {
		t.Errorf("List on an empty store: %v", err)
	}
}

func TestPipelineOptions_validation(t *testing.T) {
	cfg := config.IngestConfig{BatchSize: 2, JobsCollection: "jobs", ErrorsCollection: "errs"}
	cfg.Validation = config.ValidationConfig{Enabled: true, RequiredField: "department", PositiveField: "amount"}
	store := storage.NewMemoryStorage()
	p := ingest.NewPipeline(store, pipelineOptions(cfg, zap.NewNop())...)
	if p.JobsCollection() != "jobs" {
		t.Errorf("jobs collection = %q", p.JobsCollection())
	}

	f := excelize.NewFile()
	defer f.Close()
	for i, row := range [][]interface{}{{"department", "amount"}, {"Sales", 3}, {"", 4}, {"Ops", -1}} {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		r := row
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	sum, err := p.Ingest(context.Background(), ingest.Upload{
		Database: "reports", Collection: "rows", Filename: "Budget2024_a_b_20240315.xlsx", UploadedBy: "carol", Body: buf,
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Status != models.JobFailed || sum.InvalidRows != 2 || sum.ValidRows != 1 {
		t.Errorf("summary = %+v", sum)
	}
	n, _ := store.Collection(storage.NewRef("reports", "errs")).Count(context.Background(), nil)
	if n != 2 {
		t.Errorf("row errors in configured collection = %d, want 2", n)
	}
}

func TestReportStuck(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	jobs := store.Collection(storage.NewRef("reports", "file_uploads"))
	old := models.IngestionJob{ID: "old", Filename: "a.xlsx", Status: models.JobUploading, UploadDate: time.Now().UTC().Add(-3 * time.Hour)}
	fresh := models.IngestionJob{ID: "fresh", Filename: "b.xlsx", Status: models.JobUploading, UploadDate: time.Now().UTC()}
	done := models.IngestionJob{ID: "done", Filename: "c.xlsx", Status: models.JobCompleted, UploadDate: time.Now().UTC().Add(-5 * time.Hour)}
	for _, j := range []models.IngestionJob{old, fresh, done} {
		if _, err := jobs.InsertOne(ctx, j.Document()); err != nil {
			t.Fatal(err)
		}
	}
	p := ingest.NewPipeline(store)

	var out bytes.Buffer
	if err := reportStuck(ctx, &out, p, "reports", time.Hour, true, cli.OutputJSON); err != nil {
		t.Fatal(err)
	}
	var report cli.JobReport
	if err := json.NewDecoder(&out).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if len(report.Jobs) != 1 || report.Jobs[0]["_id"] != "old" {
		t.Errorf("jobs = %v", report.Jobs)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "old" {
		t.Errorf("failed = %v", report.Failed)
	}
	doc, err := jobs.FindOne(ctx, storage.ByID("old"))
	if err != nil {
		t.Fatal(err)
	}
	if doc["status"] != string(models.JobFailed) {
		t.Errorf("status = %v, want failed", doc["status"])
	}

	out.Reset()
	if err := reportStuck(ctx, &out, p, "reports", time.Hour, false, cli.OutputText); err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(out.Bytes(), []byte("0 job(s) in reports")) {
		t.Errorf("second scan should find nothing:\n%s", out.String())
	}
}

// blockingRunner blocks in Start until Stop, like http.Server.ListenAndServe.
type blockingRunner struct {
	startErr error
	stopped  chan struct{}
}

func (b *blockingRunner) Start() error {
	if b.startErr != nil {
		return b.startErr
	}
	<-b.stopped
	return http.ErrServerClosed
}

func (b *blockingRunner) Stop(context.Context) error {
	close(b.stopped)
	return nil
}

func TestServe(t *testing.T) {
	listenErr := errors.New("address already in use")
	tests := []struct {
		name     string
		startErr error
		signal   bool
		want     error
	}{
		{"signal shuts down cleanly", nil, true, nil},
		{"closed server is not a failure", http.ErrServerClosed, false, nil},
		{"start failure", listenErr, false, listenErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &blockingRunner{startErr: tt.startErr, stopped: make(chan struct{})}
			stop := make(chan os.Signal, 1)
			if tt.signal {
				stop <- os.Interrupt
			}
			err := serve(r, stop, time.Second, zap.NewNop())
			if !errors.Is(err, tt.want) || (tt.want == nil && err != nil) {
				t.Errorf("serve() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestServe_realServer(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.Backend = "memory"
	cfg.Cache.Backend = "none"
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	c, err := initializeComponents(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	srv := server.NewServer(c.Engine, c.Mutations, c.Pipeline, c.Storage, cfg, zap.NewNop())

	stop := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- serve(srv, stop, time.Second, zap.NewNop()) }()
	stop <- os.Interrupt

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("graceful shutdown reported %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after the stop signal")
	}
}
