package utils

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"strings"

	wkhtmltopdf "github.com/SebastiaanKlippert/go-wkhtmltopdf"
)

//go:embed templates/diploma_template.html
var defaultDiplomaTemplate string

// DiplomaRenderer turns template data into a PDF file at outPath.
type DiplomaRenderer interface {
	RenderToFile(ctx context.Context, data map[string]any, outPath string) error
}

// PDFRenderer renders the HTML certificate template and converts it with wkhtmltopdf
// (A4, landscape, zero margins).
type PDFRenderer struct {
	tmpl *template.Template
}

// NewPDFRenderer loads the template at templatePath, or the embedded default when the path is empty.
func NewPDFRenderer(templatePath string) (*PDFRenderer, error) {
	content := defaultDiplomaTemplate
	if strings.TrimSpace(templatePath) != "" {
		b, err := os.ReadFile(templatePath)
		if err != nil {
			return nil, fmt.Errorf("read diploma template: %w", err)
		}
		content = string(b)
	}
	tmpl, err := template.New("diploma").Option("missingkey=zero").Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse diploma template: %w", err)
	}
	return &PDFRenderer{tmpl: tmpl}, nil
}

func (r *PDFRenderer) RenderHTML(data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute diploma template: %w", err)
	}
	return buf.String(), nil
}

func (r *PDFRenderer) RenderToFile(ctx context.Context, data map[string]any, outPath string) error {
	html, err := r.RenderHTML(data)
	if err != nil {
		return err
	}

	pdfg, err := wkhtmltopdf.NewPDFGenerator()
	if err != nil {
		return fmt.Errorf("init wkhtmltopdf: %w", err)
	}
	pdfg.PageSize.Set(wkhtmltopdf.PageSizeA4)
	pdfg.Orientation.Set(wkhtmltopdf.OrientationLandscape)
	pdfg.MarginTop.Set(0)
	pdfg.MarginRight.Set(0)
	pdfg.MarginBottom.Set(0)
	pdfg.MarginLeft.Set(0)
	pdfg.AddPage(wkhtmltopdf.NewPageReader(strings.NewReader(html)))

	if err := pdfg.CreateContext(ctx); err != nil {
		return fmt.Errorf("render diploma pdf: %w", err)
	}
	if err := pdfg.WriteFile(outPath); err != nil {
		return fmt.Errorf("write diploma pdf: %w", err)
	}
	return nil
}
