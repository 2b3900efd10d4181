package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mmdatafocus/diplomas_backend/config"
	"github.com/mmdatafocus/diplomas_backend/models"
	"github.com/mmdatafocus/diplomas_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, cacheTTL time.Duration) (*DiplomaService, *fakePublisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pub := &fakePublisher{}
	svc := NewDiplomaService(newTestDB(t), config.NewDiplomaCache(client, cacheTTL), pub, testLogger())
	svc.Now = fixedClock(time.Date(2024, time.January, 10, 9, 5, 7, 0, time.UTC))
	return svc, pub, mr
}

func countRows(t *testing.T, svc *DiplomaService, model any) int64 {
	t.Helper()
	var n int64
	if err := svc.DB.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestCreateDiplomaCommitsAndPublishes(t *testing.T) {
	svc, pub, _ := newTestService(t, time.Hour)
	ctx := context.Background()

	id, err := svc.CreateDiploma(ctx, sampleRequest("12345"))
	if err != nil {
		t.Fatalf("CreateDiploma: %v", err)
	}
	if id <= 0 {
		t.Fatalf("id = %d", id)
	}

	jobs := pub.published()
	if len(jobs) != 1 {
		t.Fatalf("published %d jobs, want 1", len(jobs))
	}
	if jobs[0].DiplomaId != id || jobs[0].Course != "Engineering" || jobs[0].Student.Document != "12345" {
		t.Fatalf("job = %+v", jobs[0])
	}

	view, err := models.GetDiplomaView(ctx, svc.DB, id)
	if err != nil {
		t.Fatalf("GetDiplomaView: %v", err)
	}
	if view.Status != models.DiplomaStatusPending || view.PdfUrl != nil {
		t.Fatalf("status = %s pdf_url = %v", view.Status, view.PdfUrl)
	}
	if view.IssueDate.String() != "2024-01-10" {
		t.Fatalf("data_emissao = %s", view.IssueDate)
	}
}

func TestCreateDiplomaValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*models.NewDiploma)
		field  string
	}{
		{"missing course", func(d *models.NewDiploma) { d.Course = "" }, "curso"},
		{"zero hours", func(d *models.NewDiploma) { d.CreditHours = 0 }, "carga_horaria"},
		{"negative hours", func(d *models.NewDiploma) { d.CreditHours = -10 }, "carga_horaria"},
		{"missing completion date", func(d *models.NewDiploma) { d.CompletionDate = models.Date{} }, "data_conclusao"},
		{"missing document", func(d *models.NewDiploma) { d.Student.Document = "" }, "aluno.documento"},
		{"missing birth date", func(d *models.NewDiploma) { d.Student.BirthDate = models.Date{} }, "aluno.data_nascimento"},
		{"missing signatory role", func(d *models.NewDiploma) { d.Signatory.Role = "" }, "assinatura.cargo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, pub, _ := newTestService(t, time.Hour)
			req := sampleRequest("12345")
			tc.mutate(req)

			id, err := svc.CreateDiploma(context.Background(), req)
			if !errors.Is(err, utils.ErrValidation) {
				t.Fatalf("err = %v, want ErrValidation", err)
			}
			if id != 0 {
				t.Fatalf("id = %d, want 0", id)
			}
			fields := utils.ProcessValidationErrors(err)
			if _, ok := fields[tc.field]; !ok {
				t.Fatalf("fields = %v, want key %q", fields, tc.field)
			}
			if n := countRows(t, svc, &models.Diploma{}); n != 0 {
				t.Fatalf("diplomas = %d, want 0", n)
			}
			if n := countRows(t, svc, &models.Student{}); n != 0 {
				t.Fatalf("alunos = %d, want 0", n)
			}
			if len(pub.published()) != 0 {
				t.Fatalf("job published for invalid request")
			}
		})
	}
}

func TestCreateDiplomaEnqueueFailureKeepsRecord(t *testing.T) {
	svc, pub, _ := newTestService(t, time.Hour)
	pub.err = errBoom

	id, err := svc.CreateDiploma(context.Background(), sampleRequest("12345"))
	if !errors.Is(err, utils.ErrEnqueueFailed) {
		t.Fatalf("err = %v, want ErrEnqueueFailed", err)
	}
	if id <= 0 {
		t.Fatalf("id = %d, want committed id", id)
	}
	d, err := models.GetDiploma(context.Background(), svc.DB, id)
	if err != nil {
		t.Fatalf("GetDiploma: %v", err)
	}
	if d.Status != models.DiplomaStatusPending {
		t.Fatalf("status = %s", d.Status)
	}
}

func TestCreateDiplomaStoreFailureRollsBack(t *testing.T) {
	svc, pub, _ := newTestService(t, time.Hour)
	logger, hook := test.NewNullLogger()
	svc.Logger = logger
	err := svc.DB.Callback().Create().Before("gorm:create").Register("test:fail_diploma_insert", func(tx *gorm.DB) {
		if tx.Statement.Table == "diplomas" {
			_ = tx.AddError(errBoom)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	id, err := svc.CreateDiploma(context.Background(), sampleRequest("12345"))
	if !errors.Is(err, errBoom) || id != 0 {
		t.Fatalf("CreateDiploma = %d, %v, want 0 and boom", id, err)
	}
	if n := countRows(t, svc, &models.Student{}); n != 0 {
		t.Fatalf("alunos = %d, want 0", n)
	}
	if n := countRows(t, svc, &models.Signatory{}); n != 0 {
		t.Fatalf("assinaturas = %d, want 0", n)
	}
	if n := countRows(t, svc, &models.Diploma{}); n != 0 {
		t.Fatalf("diplomas = %d, want 0", n)
	}
	if len(pub.published()) != 0 {
		t.Fatalf("published = %d, want 0", len(pub.published()))
	}

	entries := hook.AllEntries()
	if len(entries) == 0 {
		t.Fatalf("store failure not logged")
	}
	for _, e := range entries {
		for k, v := range e.Data {
			if fmt.Sprint(v) == "12345" {
				t.Fatalf("log field %s carries the student document", k)
			}
		}
	}
}

func TestCreateDiplomaConcurrentSameDocument(t *testing.T) {
	svc, pub, _ := newTestService(t, time.Hour)
	const n = 8

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateDiploma(context.Background(), sampleRequest("same-doc"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("CreateDiploma: %v", err)
		}
	}

	if got := countRows(t, svc, &models.Student{}); got != 1 {
		t.Fatalf("alunos = %d, want 1", got)
	}
	if got := countRows(t, svc, &models.Signatory{}); got != 1 {
		t.Fatalf("assinaturas = %d, want 1", got)
	}
	if got := countRows(t, svc, &models.Diploma{}); got != n {
		t.Fatalf("diplomas = %d, want %d", got, n)
	}
	if got := len(pub.published()); got != n {
		t.Fatalf("published = %d, want %d", got, n)
	}
}

func TestGetDiplomaCachesAndServesStaleUntilTTL(t *testing.T) {
	svc, _, mr := newTestService(t, time.Hour)
	ctx := context.Background()
	id, err := svc.CreateDiploma(ctx, sampleRequest("12345"))
	if err != nil {
		t.Fatalf("CreateDiploma: %v", err)
	}

	first, err := svc.GetDiploma(ctx, id)
	if err != nil {
		t.Fatalf("GetDiploma: %v", err)
	}
	if first.Status != models.DiplomaStatusPending {
		t.Fatalf("status = %s", first.Status)
	}
	key := config.DiplomaCacheKey(id)
	if !mr.Exists(key) {
		t.Fatalf("projection not cached under %s", key)
	}
	if ttl := mr.TTL(key); ttl != time.Hour {
		t.Fatalf("ttl = %s, want 1h", ttl)
	}

	if err := models.MarkDiplomaCompleted(ctx, svc.DB, id, "diplomas/x.pdf"); err != nil {
		t.Fatalf("MarkDiplomaCompleted: %v", err)
	}
	cached, err := svc.GetDiploma(ctx, id)
	if err != nil {
		t.Fatalf("GetDiploma cached: %v", err)
	}
	if cached.Status != models.DiplomaStatusPending || cached.PdfUrl != nil {
		t.Fatalf("cached read = %s %v, want stale pending", cached.Status, cached.PdfUrl)
	}

	mr.FastForward(time.Hour + time.Second)
	fresh, err := svc.GetDiploma(ctx, id)
	if err != nil {
		t.Fatalf("GetDiploma after ttl: %v", err)
	}
	if fresh.Status != models.DiplomaStatusCompleted || fresh.PdfUrl == nil || *fresh.PdfUrl != "diplomas/x.pdf" {
		t.Fatalf("fresh read = %s %v", fresh.Status, fresh.PdfUrl)
	}
}

func TestGetDiplomaNotFoundIsNotCached(t *testing.T) {
	svc, _, mr := newTestService(t, time.Hour)

	_, err := svc.GetDiploma(context.Background(), 404)
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("err = %v, want ErrorRecordNotFound", err)
	}
	if mr.Exists(config.DiplomaCacheKey(404)) {
		t.Fatalf("not found result was cached")
	}
}

type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, id int, dest any) (bool, error) { return false, errBoom }
func (brokenCache) Set(ctx context.Context, id int, obj any) error         { return errBoom }

func TestGetDiplomaDegradesOnCacheErrors(t *testing.T) {
	svc, _, _ := newTestService(t, time.Hour)
	ctx := context.Background()
	id, err := svc.CreateDiploma(ctx, sampleRequest("12345"))
	if err != nil {
		t.Fatalf("CreateDiploma: %v", err)
	}

	svc.Cache = brokenCache{}
	view, err := svc.GetDiploma(ctx, id)
	if err != nil {
		t.Fatalf("GetDiploma with broken cache: %v", err)
	}
	if view.ID != id || view.Document != "12345" {
		t.Fatalf("view = %+v", view)
	}
}
