package export

import (
	"fmt"

	"hearsafe/api/internal/survey"
)

// Service turns survey aggregates into downloadable reports.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Export renders the aggregate to HTML and converts it to the requested
// format. The caller decides which revision of the aggregate to pass.
func (s *Service) Export(agg survey.Survey, format Format) (*Result, error) {
	html, err := RenderReportHTML(BuildReportData(agg))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := agg.SiteName
	if title == "" {
		title = agg.ID
	}

	switch format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// BuildReportData flattens the aggregate into template-ready rows. Areas
// are visited depth-first so sub-areas follow their parent, and each
// section title carries the full path of names.
func BuildReportData(agg survey.Survey) ReportData {
	equipmentNames := make(map[string]string, len(agg.Equipment))
	data := ReportData{
		Reference:  agg.Reference,
		SiteName:   agg.SiteName,
		ClientName: agg.ClientName,
		Address:    agg.Address,
		SurveyDate: agg.SurveyDate,
		Surveyor:   agg.Surveyor,
		Status:     agg.Status,
		Notes:      agg.Notes,
	}

	for _, eq := range agg.Equipment {
		equipmentNames[eq.ID] = eq.Name
		data.Equipment = append(data.Equipment, EquipmentRow{
			Type:          string(eq.Type),
			Name:          eq.Name,
			Serial:        eq.Serial,
			Class:         eq.Class,
			CertificateNo: eq.CertificateNo,
		})
	}

	for i, main := range agg.Areas {
		data.Areas = append(data.Areas, buildAreaSection(agg, survey.MainPath(i), main.Name, main, equipmentNames))
		for j, sub := range main.SubAreas {
			subName := main.Name + " / " + sub.Name
			data.Areas = append(data.Areas, buildAreaSection(agg, survey.SubPath(i, j), subName, sub, equipmentNames))
			for k, ss := range sub.SubAreas {
				ssName := subName + " / " + ss.Name
				data.Areas = append(data.Areas, buildAreaSection(agg, survey.SubSubPath(i, j, k), ssName, ss, equipmentNames))
			}
		}
	}

	return data
}

func buildAreaSection(agg survey.Survey, p survey.AreaPath, name string, node survey.AreaNode, equipmentNames map[string]string) AreaSection {
	section := AreaSection{
		Name:      name,
		Completed: node.DetailsCompleted,
		Comment:   agg.Comments.Get(p),
	}

	for _, src := range agg.NoiseSources.Get(p) {
		section.NoiseSources = append(section.NoiseSources, NoiseSourceRow{
			Name:  src.Name,
			Notes: src.Notes,
		})
	}

	for _, m := range agg.MeasurementsByArea.Get(p) {
		section.Measurements = append(section.Measurements, MeasurementRow{
			Position:        m.Position,
			LAeq:            m.LAeq,
			LCPeak:          m.LCPeak,
			DurationMinutes: m.Duration,
			StartTime:       m.StartTime,
			Equipment:       equipmentNames[m.EquipmentID],
		})
	}

	controls := agg.ControlsByArea.Get(p)
	if controls != (survey.Controls{}) {
		section.Controls = &ControlsBlock{
			Engineering:    controls.Engineering,
			Administrative: controls.Administrative,
			PPE:            controls.PPE,
			ReviewDate:     controls.ReviewDate,
		}
	}

	for _, hd := range agg.HearingProtectionDevices.Get(p) {
		section.Hearing = append(section.Hearing, HearingRow{
			Make:  hd.Make,
			Model: hd.Model,
			Style: hd.Style,
			SNR:   hd.SNR,
		})
	}

	issued := agg.HearingIssuedStatus.Get(p)
	if issued.Issued {
		section.Issued = &IssuedBlock{
			Issued:   issued.Issued,
			IssuedOn: issued.IssuedOn,
			Notes:    issued.Notes,
		}
	}

	for _, x := range agg.ExposuresByArea.Get(p) {
		section.Exposures = append(section.Exposures, ExposureRow{
			Job:           x.Job,
			Workers:       x.Workers,
			LAeq:          x.LAeq,
			ExposureHours: x.ExposureHours,
			LEPd:          x.LEPd,
		})
	}

	return section
}
