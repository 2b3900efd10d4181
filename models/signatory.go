package models

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Signatory signs diplomas; the pair (name, role) is unique.
type Signatory struct {
	ID   int    `gorm:"primary_key" json:"id"`
	Name string `gorm:"column:nome_assinatura;size:255;not null;uniqueIndex:uniq_assinatura" json:"nome_assinatura"`
	Role string `gorm:"column:cargo;size:150;not null;uniqueIndex:uniq_assinatura" json:"cargo"`
}

func (Signatory) TableName() string {
	return "assinaturas"
}

type NewSignatory struct {
	Name string `json:"nome_assinatura" validate:"required,max=255"`
	Role string `json:"cargo" validate:"required,max=150"`
}

func upsertSignatory(tx *gorm.DB, input NewSignatory) (int, error) {
	signatory := Signatory{
		Name: input.Name,
		Role: input.Role,
	}
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "nome_assinatura"}, {Name: "cargo"}},
		DoUpdates: clause.AssignmentColumns([]string{"nome_assinatura", "cargo"}),
	}).Create(&signatory).Error
	if err != nil {
		return 0, err
	}

	var stored Signatory
	if err := tx.Select("id").Where("nome_assinatura = ? AND cargo = ?", input.Name, input.Role).Take(&stored).Error; err != nil {
		return 0, err
	}
	return stored.ID, nil
}
