package models

// DiplomaJob is the generation message: the diploma id plus the original request payload.
type DiplomaJob struct {
	DiplomaId int `json:"diplomaId"`
	NewDiploma
}

// NewDiplomaJobFromView rebuilds the job of a stored diploma, used when republishing orphans.
func NewDiplomaJobFromView(v *DiplomaView) DiplomaJob {
	return DiplomaJob{
		DiplomaId: v.ID,
		NewDiploma: NewDiploma{
			CompletionDate: v.CompletionDate,
			Course:         v.Course,
			CreditHours:    v.CreditHours,
			Student: NewStudent{
				Name:        v.Name,
				Nationality: v.Nationality,
				State:       v.State,
				BirthDate:   v.BirthDate,
				Document:    v.Document,
			},
			Signatory: NewSignatory{
				Name: v.SignatoryName,
				Role: v.SignatoryRole,
			},
		},
	}
}
