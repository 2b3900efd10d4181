package utils

import (
	"fmt"
	"strings"
	"time"
)

const diplomaKeyTimeLayout = "20060102_150405"

// DiplomaObjectKey is the object key of a rendered diploma: diploma_{id}_{YYYYMMDD_HHMMSS}.pdf.
func DiplomaObjectKey(diplomaId int, at time.Time) string {
	return fmt.Sprintf("diploma_%d_%s.pdf", diplomaId, at.Format(diplomaKeyTimeLayout))
}

// BuildObjectReference is the stored artifact reference: {bucket}/{key}.
func BuildObjectReference(bucket, objectKey string) string {
	return strings.TrimRight(bucket, "/") + "/" + strings.TrimLeft(objectKey, "/")
}
