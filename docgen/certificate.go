/*
Package docgen renders approval certificates as PDF.

PURPOSE:
  Implements generic.DocumentGenerator. Rendering happens in a goroutine
  so a caller's context deadline bounds it; an expired deadline returns
  the context error and the engine flags the entity for regeneration.

LAYOUT:
  Landscape A4 with a border, the definition's CertificateTitle, the
  recipient's name, the definition's summary lines, and the approval
  trail taken from the entity's workflow history.

SEE ALSO:
  - generic/engine.go: Calls RenderCertificate after an approval commits
*/
package docgen

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-pdf/fpdf"

	"github.com/warp/hr-workflow/generic"
)

type Generator struct {
	Directory   generic.Directory
	CompanyName string
	Clock       func() time.Time
}

func NewGenerator(dir generic.Directory, companyName string) *Generator {
	return &Generator{Directory: dir, CompanyName: companyName, Clock: time.Now}
}

var _ generic.DocumentGenerator = (*Generator)(nil)

type result struct {
	pdf []byte
	err error
}

// RenderCertificate implements generic.DocumentGenerator.
func (g *Generator) RenderCertificate(ctx context.Context, def *generic.Definition, e *generic.Entity) ([]byte, error) {
	if e.Status != generic.StatusApproved {
		return nil, errors.Newf("certificate requested for %s request %s", e.Status, e.ID)
	}
	data, err := g.collect(ctx, def, e)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "render certificate")
	}

	done := make(chan result, 1)
	go func() {
		pdf, err := render(data)
		done <- result{pdf: pdf, err: err}
	}()
	select {
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), "render certificate")
	case r := <-done:
		return r.pdf, r.err
	}
}

type certificateData struct {
	Title     string
	Company   string
	Recipient string
	Reference string
	IssuedAt  time.Time
	Lines     []generic.SummaryLine
	Trail     []generic.SummaryLine
}

func (g *Generator) collect(ctx context.Context, def *generic.Definition, e *generic.Entity) (certificateData, error) {
	data := certificateData{
		Title:     def.CertificateTitle,
		Company:   g.CompanyName,
		Recipient: string(e.RequesterRef),
		Reference: string(e.ID),
		IssuedAt:  g.now(),
	}
	if data.Title == "" {
		data.Title = def.Name + " Certificate"
	}
	if g.Directory != nil {
		emp, err := g.Directory.GetEmployee(ctx, e.RequesterRef)
		if err != nil {
			return data, errors.Wrap(err, "load certificate recipient")
		}
		if emp != nil {
			data.Recipient = emp.Name
			if emp.Designation != "" {
				data.Recipient = fmt.Sprintf("%s, %s", emp.Name, emp.Designation)
			}
		}
	}
	if def.Summarize != nil {
		data.Lines = def.Summarize(e)
	}
	for _, step := range e.History {
		if step.Status != generic.StepApproved || step.ActionedAt == nil {
			continue
		}
		label := string(step.Stage)
		if i := def.StageIndex(step.Stage); i >= 0 {
			label = def.Stages[i].Label
		}
		data.Trail = append(data.Trail, generic.SummaryLine{
			Label: label,
			Value: fmt.Sprintf("approved %s", step.ActionedAt.Format("02 Jan 2006")),
		})
	}
	return data, nil
}

func (g *Generator) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now()
}

func render(d certificateData) ([]byte, error) {
	pdf := fpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(d.Title, true)
	pdf.SetAuthor(d.Company, true)
	pdf.SetCreationDate(d.IssuedAt)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	w, h := pdf.GetPageSize()
	pdf.SetLineWidth(1.2)
	pdf.Rect(10, 10, w-20, h-20, "D")
	pdf.SetLineWidth(0.3)
	pdf.Rect(13, 13, w-26, h-26, "D")

	pdf.SetY(30)
	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, tr(d.Company), "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 28)
	pdf.CellFormat(0, 16, tr(d.Title), "", 1, "C", false, 0, "")
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "", 13)
	pdf.CellFormat(0, 8, "This certifies that", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "B", 20)
	pdf.CellFormat(0, 12, tr(d.Recipient), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "", 11)
	for _, line := range d.Lines {
		if line.Value == "" {
			continue
		}
		pdf.SetX(60)
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(50, 7, tr(line.Label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(w-140, 7, tr(line.Value), "", "L", false)
	}

	if len(d.Trail) > 0 {
		pdf.Ln(3)
		pdf.SetFont("Helvetica", "I", 9)
		for _, step := range d.Trail {
			pdf.CellFormat(0, 5, tr(fmt.Sprintf("%s: %s", step.Label, step.Value)), "", 1, "C", false, 0, "")
		}
	}

	pdf.SetY(h - 30)
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(0, 5, fmt.Sprintf("Reference %s  |  Issued %s", d.Reference, d.IssuedAt.Format("02 Jan 2006")),
		"", 1, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, errors.Wrap(err, "write certificate pdf")
	}
	return buf.Bytes(), nil
}
