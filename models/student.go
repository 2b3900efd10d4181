package models

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Student is a diploma holder, identified by its document number.
type Student struct {
	ID          int    `gorm:"primary_key" json:"id"`
	Name        string `gorm:"column:nome;size:255;not null" json:"nome"`
	Nationality string `gorm:"column:nacionalidade;size:100;not null" json:"nacionalidade"`
	State       string `gorm:"column:estado;size:100;not null" json:"estado"`
	BirthDate   Date   `gorm:"column:data_nascimento;not null" json:"data_nascimento"`
	Document    string `gorm:"column:documento;size:100;not null;uniqueIndex" json:"documento"`
}

func (Student) TableName() string {
	return "alunos"
}

type NewStudent struct {
	Name        string `json:"nome" validate:"required,max=255"`
	Nationality string `json:"nacionalidade" validate:"required,max=100"`
	State       string `json:"estado" validate:"required,max=100"`
	BirthDate   Date   `json:"data_nascimento" validate:"required"`
	Document    string `json:"documento" validate:"required,max=100"`
}

// upsertStudent inserts the student or overwrites the mutable fields of the row with the same
// document (last write wins) and returns its id.
func upsertStudent(tx *gorm.DB, input NewStudent) (int, error) {
	student := Student{
		Name:        input.Name,
		Nationality: input.Nationality,
		State:       input.State,
		BirthDate:   input.BirthDate,
		Document:    input.Document,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "documento"}},
		DoUpdates: clause.AssignmentColumns([]string{"nome", "nacionalidade", "estado", "data_nascimento"}),
	}).Create(&student).Error
	if err != nil {
		return 0, err
	}

	// LastInsertId is not reliable after ON DUPLICATE KEY UPDATE; read the id back by natural key.
	var stored Student
	if err := tx.Select("id").Where("documento = ?", input.Document).Take(&stored).Error; err != nil {
		return 0, err
	}
	return stored.ID, nil
}
