package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/diplomas_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DiplomaStatus string

const (
	DiplomaStatusPending    DiplomaStatus = "pending"
	DiplomaStatusProcessing DiplomaStatus = "processing"
	DiplomaStatusCompleted  DiplomaStatus = "completed"
	DiplomaStatusFailed     DiplomaStatus = "failed"
)

func (s DiplomaStatus) IsValid() bool {
	switch s {
	case DiplomaStatusPending, DiplomaStatusProcessing, DiplomaStatusCompleted, DiplomaStatusFailed:
		return true
	}
	return false
}

// Diploma is one issued diploma. PdfUrl is set exactly when Status is completed.
type Diploma struct {
	ID             int           `gorm:"primary_key" json:"id"`
	CompletionDate Date          `gorm:"column:data_conclusao;not null" json:"data_conclusao"`
	Course         string        `gorm:"column:curso;size:255;not null" json:"curso"`
	CreditHours    int           `gorm:"column:carga_horaria;not null;check:chk_diplomas_carga_horaria,carga_horaria > 0" json:"carga_horaria"`
	StudentId      int           `gorm:"column:fk_aluno;not null;index" json:"fk_aluno"`
	SignatoryId    int           `gorm:"column:fk_assinatura;not null;index" json:"fk_assinatura"`
	Status         DiplomaStatus `gorm:"size:20;not null;default:pending;index:idx_diplomas_status_updated,priority:1" json:"status"`
	PdfUrl         *string       `gorm:"column:pdf_url;size:512" json:"pdf_url"`
	IssueDate      Date          `gorm:"column:data_emissao;not null" json:"data_emissao"`
	CreatedAt      time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time     `gorm:"autoUpdateTime;index:idx_diplomas_status_updated,priority:2" json:"updated_at"`

	Student   Student   `gorm:"foreignKey:StudentId;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	Signatory Signatory `gorm:"foreignKey:SignatoryId;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
}

type NewDiploma struct {
	CompletionDate Date         `json:"data_conclusao" validate:"required"`
	Course         string       `json:"curso" validate:"required,max=255"`
	CreditHours    int          `json:"carga_horaria" validate:"gt=0"`
	Student        NewStudent   `json:"aluno"`
	Signatory      NewSignatory `json:"assinatura"`
}

// DiplomaView is the read projection of a diploma joined with its student and signatory.
type DiplomaView struct {
	ID             int           `gorm:"column:id" json:"id"`
	CompletionDate Date          `gorm:"column:data_conclusao" json:"data_conclusao"`
	Course         string        `gorm:"column:curso" json:"curso"`
	CreditHours    int           `gorm:"column:carga_horaria" json:"carga_horaria"`
	Status         DiplomaStatus `gorm:"column:status" json:"status"`
	PdfUrl         *string       `gorm:"column:pdf_url" json:"pdf_url"`
	IssueDate      Date          `gorm:"column:data_emissao" json:"data_emissao"`
	Name           string        `gorm:"column:nome" json:"nome"`
	Nationality    string        `gorm:"column:nacionalidade" json:"nacionalidade"`
	State          string        `gorm:"column:estado" json:"estado"`
	BirthDate      Date          `gorm:"column:data_nascimento" json:"data_nascimento"`
	Document       string        `gorm:"column:documento" json:"documento"`
	SignatoryName  string        `gorm:"column:nome_assinatura" json:"nome_assinatura"`
	SignatoryRole  string        `gorm:"column:cargo" json:"cargo"`
}

// TemplateData is the certificate template input; dates are formatted as DD/MM/YYYY.
func (v *DiplomaView) TemplateData() map[string]any {
	return map[string]any{
		"id":              v.ID,
		"data_conclusao":  v.CompletionDate.Display(),
		"curso":           v.Course,
		"carga_horaria":   v.CreditHours,
		"data_emissao":    v.IssueDate.Display(),
		"nome":            v.Name,
		"nacionalidade":   v.Nationality,
		"estado":          v.State,
		"data_nascimento": v.BirthDate.Display(),
		"documento":       v.Document,
		"nome_assinatura": v.SignatoryName,
		"cargo":           v.SignatoryRole,
	}
}

// CreateDiplomaRecords upserts the student and the signatory and inserts a pending diploma.
// It must run inside a transaction; it returns the new diploma id.
func CreateDiplomaRecords(tx *gorm.DB, input *NewDiploma, issuedOn Date) (int, error) {
	studentId, err := upsertStudent(tx, input.Student)
	if err != nil {
		return 0, err
	}
	signatoryId, err := upsertSignatory(tx, input.Signatory)
	if err != nil {
		return 0, err
	}

	diploma := Diploma{
		CompletionDate: input.CompletionDate,
		Course:         input.Course,
		CreditHours:    input.CreditHours,
		StudentId:      studentId,
		SignatoryId:    signatoryId,
		Status:         DiplomaStatusPending,
		IssueDate:      issuedOn,
	}
	if err := tx.Omit(clause.Associations).Create(&diploma).Error; err != nil {
		return 0, err
	}
	return diploma.ID, nil
}

func diplomaViewQuery(db *gorm.DB) *gorm.DB {
	return db.Table("diplomas AS d").
		Select(`d.id, d.data_conclusao, d.curso, d.carga_horaria, d.status, d.pdf_url, d.data_emissao,
			a.nome, a.nacionalidade, a.estado, a.data_nascimento, a.documento,
			s.nome_assinatura, s.cargo`).
		Joins("JOIN alunos a ON d.fk_aluno = a.id").
		Joins("JOIN assinaturas s ON d.fk_assinatura = s.id")
}

// GetDiplomaView returns the projection of diploma id or utils.ErrorRecordNotFound.
func GetDiplomaView(ctx context.Context, db *gorm.DB, id int) (*DiplomaView, error) {
	var view DiplomaView
	result := diplomaViewQuery(db.WithContext(ctx)).Where("d.id = ?", id).Limit(1).Scan(&view)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, utils.ErrorRecordNotFound
	}
	return &view, nil
}

// MarkDiplomaProcessing moves the diploma to processing from any state and clears its artifact URL.
func MarkDiplomaProcessing(ctx context.Context, db *gorm.DB, id int) error {
	return setDiplomaStatus(ctx, db, id, DiplomaStatusProcessing, nil)
}

// MarkDiplomaCompleted records the artifact URL and the completed status in a single UPDATE.
func MarkDiplomaCompleted(ctx context.Context, db *gorm.DB, id int, pdfUrl string) error {
	if pdfUrl == "" {
		return errors.New("pdf url is required to complete a diploma")
	}
	return setDiplomaStatus(ctx, db, id, DiplomaStatusCompleted, &pdfUrl)
}

func MarkDiplomaFailed(ctx context.Context, db *gorm.DB, id int) error {
	return setDiplomaStatus(ctx, db, id, DiplomaStatusFailed, nil)
}

func setDiplomaStatus(ctx context.Context, db *gorm.DB, id int, status DiplomaStatus, pdfUrl *string) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid diploma status %q", status)
	}
	if (status == DiplomaStatusCompleted) != (pdfUrl != nil) {
		return fmt.Errorf("pdf_url must be set exactly when status is %s", DiplomaStatusCompleted)
	}
	return db.WithContext(ctx).Model(&Diploma{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":  status,
			"pdf_url": pdfUrl,
		}).Error
}

// ListStaleDiplomaIds returns diplomas still pending or processing whose last write is older than before.
func ListStaleDiplomaIds(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]int, error) {
	var ids []int
	q := db.WithContext(ctx).Model(&Diploma{}).
		Where("status IN ?", []DiplomaStatus{DiplomaStatusPending, DiplomaStatusProcessing}).
		Where("updated_at < ?", before).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// TouchDiploma bumps updated_at of an unfinished diploma so the next sweep does not pick it again.
func TouchDiploma(ctx context.Context, db *gorm.DB, id int, at time.Time) error {
	return db.WithContext(ctx).Model(&Diploma{}).
		Where("id = ? AND status IN ?", id, []DiplomaStatus{DiplomaStatusPending, DiplomaStatusProcessing}).
		UpdateColumn("updated_at", at).Error
}

func GetDiploma(ctx context.Context, db *gorm.DB, id int) (*Diploma, error) {
	var diploma Diploma
	err := db.WithContext(ctx).Where("id = ?", id).Take(&diploma).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &diploma, nil
}
