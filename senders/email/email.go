package email

import (
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/fiffu/hubdeck/lib/models"
)

var (
	//go:embed report.html
	reportHTML     string
	reportTemplate = template.Must(template.New("report.html").Parse(reportHTML))
)

func mustFillTemplate(tmpl *template.Template, values any) string {
	buf := new(strings.Builder)
	err := tmpl.Execute(buf, values)
	if err != nil {
		return ""
	}
	return buf.String()
}

type ReportEmailFormat struct {
	Report *models.ErrorReport
}

func (ef *ReportEmailFormat) Subject() string {
	return fmt.Sprintf("hubdeck: %s", ef.Report.Name)
}

func (ef *ReportEmailFormat) OccurredAt() string {
	return ef.Report.OccurredAt.UTC().Format(time.RFC3339)
}

func (ef *ReportEmailFormat) Body() string {
	return mustFillTemplate(reportTemplate, ef)
}
