package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
	}

	templateContent, err := templateFS.ReadFile("templates/report.html")
	if err != nil {
		// Fallback to the built-in template if the file is missing.
		reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	reportTemplate = template.Must(template.New("report").Funcs(funcMap).Parse(string(templateContent)))
}

// ReportData holds data for report template rendering.
type ReportData struct {
	Reference  string
	SiteName   string
	ClientName string
	Address    string
	SurveyDate string
	Surveyor   string
	Status     string
	Notes      string
	Equipment  []EquipmentRow
	Areas      []AreaSection
}

// EquipmentRow is a row in the instrumentation table.
type EquipmentRow struct {
	Type          string
	Name          string
	Serial        string
	Class         string
	CertificateNo string
}

// AreaSection is one surveyed area with its records.
type AreaSection struct {
	Name         string // full path, e.g. "Press Shop / Stamping Line"
	Completed    bool
	NoiseSources []NoiseSourceRow
	Measurements []MeasurementRow
	Controls     *ControlsBlock
	Hearing      []HearingRow
	Issued       *IssuedBlock
	Exposures    []ExposureRow
	Comment      string
}

// IssuedBlock reports whether hearing protection has been issued.
type IssuedBlock struct {
	Issued   bool
	IssuedOn string
	Notes    string
}

type NoiseSourceRow struct {
	Name  string
	Notes string
}

type MeasurementRow struct {
	Position        string
	LAeq            float64
	LCPeak          float64
	DurationMinutes int
	StartTime       string
	Equipment       string
}

type ControlsBlock struct {
	Engineering    string
	Administrative string
	PPE            string
	ReviewDate     string
}

type HearingRow struct {
	Make  string
	Model string
	Style string
	SNR   float64
}

type ExposureRow struct {
	Job           string
	Workers       int
	LAeq          float64
	ExposureHours float64
	LEPd          float64
}

// RenderReportHTML renders the report template with provided data.
func RenderReportHTML(data ReportData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load.
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Noise Survey Report - {{.SiteName}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.5; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    table { border-collapse: collapse; width: 100%; margin: 0.5rem 0; }
    th, td { border: 1px solid #999; padding: 4px 8px; text-align: left; font-size: 0.9em; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 1.5rem; }
    .area { margin: 1.5rem 0; }
  </style>
</head>
<body>
  <h1>Noise Survey Report</h1>
  <div class="meta">{{.SiteName}} | {{.ClientName}} | {{.Reference}} | {{.SurveyDate}} | {{.Surveyor}}</div>
  {{if .Notes}}<p>{{.Notes}}</p>{{end}}
  {{if .Equipment}}
  <h2>Instrumentation</h2>
  <table>
    <tr><th>Type</th><th>Instrument</th><th>Serial</th><th>Class</th><th>Certificate</th></tr>
    {{range .Equipment}}<tr><td>{{.Type}}</td><td>{{.Name}}</td><td>{{.Serial}}</td><td>{{.Class}}</td><td>{{.CertificateNo}}</td></tr>{{end}}
  </table>
  {{end}}
  {{range .Areas}}
  <div class="area">
    <h2>{{.Name}}</h2>
    {{if .NoiseSources}}
    <h3>Noise sources</h3>
    <table>
      <tr><th>Source</th><th>Notes</th></tr>
      {{range .NoiseSources}}<tr><td>{{.Name}}</td><td>{{.Notes}}</td></tr>{{end}}
    </table>
    {{end}}
    {{if .Measurements}}
    <h3>Measurements</h3>
    <table>
      <tr><th>Position</th><th>LAeq dB</th><th>LCpeak dB</th><th>Duration</th><th>Instrument</th></tr>
      {{range .Measurements}}<tr><td>{{.Position}}</td><td>{{printf "%.1f" .LAeq}}</td><td>{{printf "%.1f" .LCPeak}}</td><td>{{.DurationMinutes}} min</td><td>{{.Equipment}}</td></tr>{{end}}
    </table>
    {{end}}
    {{if .Controls}}
    <h3>Noise controls</h3>
    <table>
      <tr><th>Engineering</th><td>{{.Controls.Engineering}}</td></tr>
      <tr><th>Administrative</th><td>{{.Controls.Administrative}}</td></tr>
      <tr><th>PPE</th><td>{{.Controls.PPE}}</td></tr>
      <tr><th>Review date</th><td>{{.Controls.ReviewDate}}</td></tr>
    </table>
    {{end}}
    {{if .Hearing}}
    <h3>Hearing protection</h3>
    <table>
      <tr><th>Make</th><th>Model</th><th>Style</th><th>SNR</th></tr>
      {{range .Hearing}}<tr><td>{{.Make}}</td><td>{{.Model}}</td><td>{{.Style}}</td><td>{{printf "%.0f" .SNR}}</td></tr>{{end}}
    </table>
    {{end}}
    {{if .Issued}}<p>Hearing protection issued{{if .Issued.IssuedOn}} on {{.Issued.IssuedOn}}{{end}}.{{if .Issued.Notes}} {{.Issued.Notes}}{{end}}</p>{{end}}
    {{if .Exposures}}
    <h3>Exposure estimates</h3>
    <table>
      <tr><th>Job</th><th>Workers</th><th>LAeq dB</th><th>Hours</th><th>LEP,d dB</th></tr>
      {{range .Exposures}}<tr><td>{{.Job}}</td><td>{{.Workers}}</td><td>{{printf "%.1f" .LAeq}}</td><td>{{printf "%.1f" .ExposureHours}}</td><td>{{printf "%.1f" .LEPd}}</td></tr>{{end}}
    </table>
    {{end}}
    {{if .Comment}}<p>{{.Comment}}</p>{{end}}
  </div>
  {{end}}
</body>
</html>`
