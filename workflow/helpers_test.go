package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/diplomas_backend/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "diplomas.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}
	return db
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.PanicLevel)
	return l
}

func sampleRequest(document string) *models.NewDiploma {
	return &models.NewDiploma{
		CompletionDate: models.NewDate(2023, time.December, 15),
		Course:         "Engineering",
		CreditHours:    3600,
		Student: models.NewStudent{
			Name:        "Maria Silva",
			Nationality: "Brasileira",
			State:       "SP",
			BirthDate:   models.NewDate(1999, time.March, 2),
			Document:    document,
		},
		Signatory: models.NewSignatory{
			Name: "Joao Souza",
			Role: "Reitor",
		},
	}
}

func insertDiploma(t *testing.T, db *gorm.DB, document string) int {
	t.Helper()
	var id int
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		id, err = models.CreateDiplomaRecords(tx, sampleRequest(document), models.NewDate(2024, time.January, 10))
		return err
	})
	if err != nil {
		t.Fatalf("CreateDiplomaRecords: %v", err)
	}
	return id
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

type fakePublisher struct {
	mu   sync.Mutex
	jobs []models.DiplomaJob
	err  error
}

func (p *fakePublisher) PublishDiplomaJob(ctx context.Context, job models.DiplomaJob) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.jobs = append(p.jobs, job)
	return "msg-" + time.Now().Format("150405.000000"), nil
}

func (p *fakePublisher) published() []models.DiplomaJob {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.DiplomaJob, len(p.jobs))
	copy(out, p.jobs)
	return out
}

type fakeRenderer struct {
	mu    sync.Mutex
	calls int
	paths []string
	data  []map[string]any
	err   error
}

func (r *fakeRenderer) RenderToFile(ctx context.Context, data map[string]any, outPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.paths = append(r.paths, outPath)
	r.data = append(r.data, data)
	if err := os.WriteFile(outPath, []byte("%PDF-1.4 fake"), 0o600); err != nil {
		return err
	}
	return r.err
}

type upload struct {
	bucket, key, contentType string
	body                     []byte
}

type fakeStore struct {
	mu        sync.Mutex
	buckets   []string
	uploads   []upload
	ensureErr error
	uploadErr error
}

func (s *fakeStore) EnsureBucket(ctx context.Context, bucket string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = append(s.buckets, bucket)
	return s.ensureErr
}

func (s *fakeStore) UploadFile(ctx context.Context, bucket, key, path, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return s.uploadErr
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	s.uploads = append(s.uploads, upload{bucket: bucket, key: key, contentType: contentType, body: body})
	return nil
}

func (s *fakeStore) Close() error { return nil }

var errBoom = errors.New("boom")

func itoa(n int) string { return strconv.Itoa(n) }
