package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"kafkasink/internal/config"
	"kafkasink/internal/models"
	"kafkasink/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Streams.CatalogPath = filepath.Join(t.TempDir(), "catalog")
	cfg.Streams.Mapping = map[string]string{"raw-logs": "logs"}
	cfg.Storage.Dir = filepath.Join(t.TempDir(), "staging")
	return cfg
}

func TestWiring_ProcessesIntoStagedSegments(t *testing.T) {
	ctx := context.Background()
	a := New(testConfig(t))

	if err := a.initCatalog(ctx); err != nil {
		t.Fatalf("initCatalog failed: %v", err)
	}
	if err := a.initStorage(ctx); err != nil {
		t.Fatalf("initStorage failed: %v", err)
	}

	b := models.NewBatch([]models.RawRecord{
		{Topic: "raw-logs", Offset: 0, Payload: []byte(`{"level":"INFO","msg":"a"}`)},
		{Topic: "raw-logs", Offset: 1, Payload: []byte(`{"level":"WARN","msg":"b"}`)},
	})
	if err := a.processor.Process(ctx, b); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if err := a.processor.OnStreamEnd(ctx); err != nil {
		t.Fatalf("OnStreamEnd failed: %v", err)
	}

	s, ok := a.registry.Get("logs")
	if !ok {
		t.Fatal("expected mapped stream to be provisioned")
	}
	if s.Schema.NumFields() != 3 {
		t.Errorf("expected level, msg and timestamp columns, got %s", s.Schema)
	}

	files, err := filepath.Glob(filepath.Join(a.cfg.Storage.Dir, "logs", "date=*", "hour=*", "*"+storage.SegmentExt))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one finalized segment, got %v (%v)", files, err)
	}
	_, recs, err := storage.ReadSegment(files[0])
	if err != nil {
		t.Fatalf("ReadSegment failed: %v", err)
	}
	var rows int64
	for _, r := range recs {
		rows += r.NumRows()
		r.Release()
	}
	if rows != 2 {
		t.Errorf("expected 2 staged rows, got %d", rows)
	}

	if err := a.closeStorage(); err != nil {
		t.Fatalf("closeStorage failed: %v", err)
	}
}

func TestWiring_FractionalValueWidensIntegerColumn(t *testing.T) {
	ctx := context.Background()
	a := New(testConfig(t))
	if err := a.initCatalog(ctx); err != nil {
		t.Fatalf("initCatalog failed: %v", err)
	}
	if err := a.initStorage(ctx); err != nil {
		t.Fatalf("initStorage failed: %v", err)
	}
	defer a.closeStorage()

	first := models.NewBatch([]models.RawRecord{{Topic: "latency", Offset: 0, Payload: []byte(`{"ms":12}`)}})
	if err := a.processor.Process(ctx, first); err != nil {
		t.Fatalf("first batch failed: %v", err)
	}
	second := models.NewBatch([]models.RawRecord{
		{Topic: "latency", Offset: 1, Payload: []byte(`[{"ms":12.5},{"ms":13}]`)},
		{Topic: "latency", Offset: 2, Payload: []byte(`{"ms":14}`)},
	})
	if err := a.processor.Process(ctx, second); err != nil {
		t.Fatalf("second batch failed: %v", err)
	}
	if err := a.processor.OnStreamEnd(ctx); err != nil {
		t.Fatalf("OnStreamEnd failed: %v", err)
	}

	s, _ := a.registry.Get("latency")
	idx := s.Schema.FieldIndices("ms")
	if len(idx) != 1 || s.Schema.Field(idx[0]).Type.ID() != arrow.FLOAT64 {
		t.Fatalf("expected ms widened to float64, got %s", s.Schema)
	}

	files, _ := filepath.Glob(filepath.Join(a.cfg.Storage.Dir, "latency", "date=*", "hour=*", "*"+storage.SegmentExt))
	var rows int64
	for _, f := range files {
		_, recs, err := storage.ReadSegment(f)
		if err != nil {
			t.Fatalf("ReadSegment failed: %v", err)
		}
		for _, r := range recs {
			rows += r.NumRows()
			r.Release()
		}
	}
	if rows != 4 {
		t.Errorf("expected 4 staged rows, got %d", rows)
	}
}

func TestWiring_CatalogSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first := New(cfg)
	if err := first.initCatalog(ctx); err != nil {
		t.Fatalf("initCatalog failed: %v", err)
	}
	if err := first.initStorage(ctx); err != nil {
		t.Fatalf("initStorage failed: %v", err)
	}
	b := models.NewBatch([]models.RawRecord{{Topic: "metrics", Payload: []byte(`{"v":1}`)}})
	if err := first.processor.Process(ctx, b); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if err := first.closeStorage(); err != nil {
		t.Fatalf("closeStorage failed: %v", err)
	}

	second := New(cfg)
	if err := second.initCatalog(ctx); err != nil {
		t.Fatalf("reopen catalog failed: %v", err)
	}
	defer second.catalog.Close()

	s, ok := second.registry.Get("metrics")
	if !ok || !s.Schema.HasField("v") {
		t.Errorf("expected stream and schema to be reloaded, got %+v", s)
	}
}

func TestWiring_BuildsConsumerWorkerAndServer(t *testing.T) {
	ctx := context.Background()
	a := New(testConfig(t))
	if err := a.initCatalog(ctx); err != nil {
		t.Fatalf("initCatalog failed: %v", err)
	}
	if err := a.initStorage(ctx); err != nil {
		t.Fatalf("initStorage failed: %v", err)
	}
	defer a.closeStorage()

	if err := a.initConsumer(); err != nil {
		t.Fatalf("initConsumer failed: %v", err)
	}
	defer a.consumer.Close()
	a.initWorker()
	a.initHTTPServer()

	if a.worker == nil || a.httpServer == nil || a.httpServer.Handler == nil {
		t.Fatal("expected worker and admin server to be built")
	}
	if a.httpServer.Addr != a.cfg.HTTP.Addr {
		t.Errorf("expected server on %s, got %s", a.cfg.HTTP.Addr, a.httpServer.Addr)
	}
	if a.consumer.Running() {
		t.Error("consumer must not run before Run")
	}
}

func TestWiring_InMemoryCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Streams.CatalogPath = ""

	a := New(cfg)
	if err := a.initCatalog(context.Background()); err != nil {
		t.Fatalf("initCatalog failed: %v", err)
	}
	defer a.catalog.Close()
	if len(a.registry.List()) != 0 {
		t.Error("expected empty registry")
	}
}

// TestRun_Integration needs a broker; run with KAFKA_TEST=1
func TestRun_Integration(t *testing.T) {
	if os.Getenv("KAFKA_TEST") == "" {
		t.Skip("set KAFKA_TEST=1 to run against a local broker")
	}

	cfg := testConfig(t)
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Batch.MaxWait = 200 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := New(cfg).Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}
