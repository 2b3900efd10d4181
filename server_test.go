package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/diplomas_backend/config"
	"github.com/mmdatafocus/diplomas_backend/models"
	"github.com/mmdatafocus/diplomas_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubPublisher struct {
	mu   sync.Mutex
	jobs []models.DiplomaJob
	err  error
}

func (p *stubPublisher) PublishDiplomaJob(ctx context.Context, job models.DiplomaJob) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.jobs = append(p.jobs, job)
	return "1", nil
}

const validBody = `{
	"data_conclusao": "2023-12-15",
	"curso": "Engineering",
	"carga_horaria": 3600,
	"aluno": {
		"nome": "Maria Silva",
		"nacionalidade": "Brasileira",
		"estado": "SP",
		"data_nascimento": "1999-03-02",
		"documento": "12345"
	},
	"assinatura": {"nome_assinatura": "Joao Souza", "cargo": "Reitor"}
}`

func newTestServer(t *testing.T) (*gin.Engine, *serviceRef, *stubPublisher, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("MigrateTable: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	pub := &stubPublisher{}
	ref := &serviceRef{}
	ref.Set(workflow.NewDiplomaService(db, config.NewDiplomaCache(rdb, time.Hour), pub, log))
	return newRouter(&config.Config{Env: "test"}, log, ref), ref, pub, db
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateAndReadDiploma(t *testing.T) {
	r, _, pub, _ := newTestServer(t)

	w := do(r, http.MethodPost, "/diplomas", validBody)
	if w.Code != http.StatusOK {
		t.Fatalf("POST /diplomas = %d %s", w.Code, w.Body.String())
	}
	var created createDiplomaResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil || created.DiplomaId <= 0 {
		t.Fatalf("response = %s (%v)", w.Body.String(), err)
	}
	if len(pub.jobs) != 1 || pub.jobs[0].DiplomaId != created.DiplomaId {
		t.Fatalf("published jobs = %+v", pub.jobs)
	}

	w = do(r, http.MethodGet, "/diplomas/"+strconv.Itoa(created.DiplomaId), "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET = %d %s", w.Code, w.Body.String())
	}
	var view map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	if view["status"] != "pending" || view["pdf_url"] != nil || view["nome"] != "Maria Silva" || view["data_conclusao"] != "2023-12-15" {
		t.Fatalf("view = %v", view)
	}
}

func TestCreateDiplomaBadRequests(t *testing.T) {
	r, _, pub, _ := newTestServer(t)

	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"malformed json", `{"curso":`, ""},
		{"bad date", strings.Replace(validBody, "2023-12-15", "15/12/2023", 1), ""},
		{"zero hours", strings.Replace(validBody, `"carga_horaria": 3600`, `"carga_horaria": 0`, 1), "carga_horaria"},
		{"missing document", strings.Replace(validBody, `"documento": "12345"`, `"documento": ""`, 1), "aluno.documento"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/diplomas", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d %s", w.Code, w.Body.String())
			}
			if tc.field != "" {
				var resp struct {
					Fields map[string]string `json:"fields"`
				}
				_ = json.Unmarshal(w.Body.Bytes(), &resp)
				if _, ok := resp.Fields[tc.field]; !ok {
					t.Fatalf("fields = %v, want %s", resp.Fields, tc.field)
				}
			}
		})
	}
	if len(pub.jobs) != 0 {
		t.Fatalf("jobs published for bad requests")
	}
}

func TestCreateDiplomaEnqueueFailureStillReturnsId(t *testing.T) {
	r, _, pub, db := newTestServer(t)
	pub.err = errors.New("pubsub down")

	w := do(r, http.MethodPost, "/diplomas", validBody)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d %s", w.Code, w.Body.String())
	}
	var created createDiplomaResponse
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	d, err := models.GetDiploma(context.Background(), db, created.DiplomaId)
	if err != nil || d.Status != models.DiplomaStatusPending {
		t.Fatalf("stored diploma = %+v, %v", d, err)
	}
}

func TestGetDiplomaErrors(t *testing.T) {
	r, _, _, _ := newTestServer(t)

	for path, want := range map[string]int{
		"/diplomas/abc": http.StatusBadRequest,
		"/diplomas/0":   http.StatusBadRequest,
		"/diplomas/77":  http.StatusNotFound,
		"/nowhere":      http.StatusNotFound,
	} {
		if w := do(r, http.MethodGet, path, ""); w.Code != want {
			t.Fatalf("GET %s = %d, want %d", path, w.Code, want)
		}
	}
}

func TestReadinessAndHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	r := newRouter(&config.Config{}, log, &serviceRef{})

	if w := do(r, http.MethodGet, "/healthz", ""); w.Code != http.StatusNoContent {
		t.Fatalf("/healthz = %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/diplomas", validBody); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("POST before ready = %d", w.Code)
	}
	w := do(r, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "diplomas_http_requests_total") {
		t.Fatalf("/metrics = %d", w.Code)
	}
}
