package survey

// EquipmentType distinguishes sound level meters from calibrators.
type EquipmentType string

const (
	EquipmentSLM        EquipmentType = "SLM"
	EquipmentCalibrator EquipmentType = "CALIBRATOR"
)

// Equipment is survey-global instrumentation, referenced from measurement and
// exposure records by ID rather than by area path.
type Equipment struct {
	ID     string        `json:"id"`
	Type   EquipmentType `json:"type"`
	Name   string        `json:"name"`
	Serial string        `json:"serial"`
	// SLM fields
	Class         string `json:"class,omitempty"`
	CertificateNo string `json:"certificateNo,omitempty"`
	// Calibrator fields
	OutputLevel float64 `json:"outputLevel,omitempty"`
	Frequency   float64 `json:"frequency,omitempty"`
	// Field calibration window
	StartDate string `json:"startDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

type NoiseSource struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Notes string `json:"notes,omitempty"`
}

type Measurement struct {
	ID          string  `json:"id"`
	EquipmentID string  `json:"equipmentId,omitempty"`
	Position    string  `json:"position"`
	LAeq        float64 `json:"laeq"`
	LCPeak      float64 `json:"lcpeak"`
	Duration    int     `json:"durationMinutes"`
	StartTime   string  `json:"startTime,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

// Controls is the single noise-control record an area carries.
type Controls struct {
	Engineering    string `json:"engineering,omitempty"`
	Administrative string `json:"administrative,omitempty"`
	PPE            string `json:"ppe,omitempty"`
	ReviewDate     string `json:"reviewDate,omitempty"`
}

type HearingDevice struct {
	ID    string  `json:"id"`
	Make  string  `json:"make"`
	Model string  `json:"model"`
	Style string  `json:"style,omitempty"`
	SNR   float64 `json:"snr"`
}

// IssuedStatus records whether hearing protection has been issued for an
// area.
type IssuedStatus struct {
	Issued   bool   `json:"issued"`
	IssuedOn string `json:"issuedOn,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type Exposure struct {
	ID            string  `json:"id"`
	Job           string  `json:"job"`
	Workers       int     `json:"workers"`
	LAeq          float64 `json:"laeq"`
	ExposureHours float64 `json:"exposureHours"`
	LEPd          float64 `json:"lepd"`
	EquipmentID   string  `json:"equipmentId,omitempty"`
}

const (
	StatusDraft     = "DRAFT"
	StatusCompleted = "COMPLETED"
)

// Survey is the aggregate: scalar metadata, the equipment list, the area
// tree, and one path-keyed store per data category. It is the unit of
// persistence and serializes to plain JSON with no cycles.
type Survey struct {
	ID         string `json:"id"`
	SiteName   string `json:"siteName"`
	ClientName string `json:"clientName"`
	Address    string `json:"address,omitempty"`
	Reference  string `json:"reference,omitempty"`
	SurveyDate string `json:"surveyDate,omitempty"`
	Surveyor   string `json:"surveyor,omitempty"`
	Status     string `json:"status"`
	Notes      string `json:"notes,omitempty"`
	CreatedBy  string `json:"createdBy,omitempty"`

	Equipment []Equipment `json:"equipment"`
	Areas     []AreaNode  `json:"areas"`

	NoiseSources             PathStore[[]NoiseSource]   `json:"noiseSources"`
	MeasurementsByArea       PathStore[[]Measurement]   `json:"measurementsByArea"`
	ControlsByArea           PathStore[Controls]        `json:"controlsByArea"`
	HearingProtectionDevices PathStore[[]HearingDevice] `json:"hearingProtectionDevices"`
	HearingIssuedStatus      PathStore[IssuedStatus]    `json:"hearingIssuedStatus"`
	ExposuresByArea          PathStore[[]Exposure]      `json:"exposuresByArea"`
	Comments                 PathStore[string]          `json:"comments"`
}

// New returns a fresh draft survey with empty stores.
func New(id, createdBy string) Survey {
	return Survey{
		ID:                       id,
		Status:                   StatusDraft,
		CreatedBy:                createdBy,
		Equipment:                []Equipment{},
		Areas:                    []AreaNode{},
		NoiseSources:             PathStore[[]NoiseSource]{},
		MeasurementsByArea:       PathStore[[]Measurement]{},
		ControlsByArea:           PathStore[Controls]{},
		HearingProtectionDevices: PathStore[[]HearingDevice]{},
		HearingIssuedStatus:      PathStore[IssuedStatus]{},
		ExposuresByArea:          PathStore[[]Exposure]{},
		Comments:                 PathStore[string]{},
	}
}

// ReadOnly reports whether the survey may no longer be mutated. Completed
// surveys are viewed, never edited.
func (s Survey) ReadOnly() bool {
	return s.Status == StatusCompleted
}

// Patch is a partial set of top-level survey fields. Present (non-nil) fields
// replace the corresponding aggregate field; absent fields are untouched.
// This shallow merge is the sole mutation primitive the surrounding forms
// use; nested structures are rebuilt immutably first and then swapped in at
// the top level.
type Patch struct {
	SiteName   *string `json:"siteName,omitempty"`
	ClientName *string `json:"clientName,omitempty"`
	Address    *string `json:"address,omitempty"`
	Reference  *string `json:"reference,omitempty"`
	SurveyDate *string `json:"surveyDate,omitempty"`
	Surveyor   *string `json:"surveyor,omitempty"`
	Status     *string `json:"status,omitempty"`
	Notes      *string `json:"notes,omitempty"`

	Equipment *[]Equipment `json:"equipment,omitempty"`
	Areas     *[]AreaNode  `json:"areas,omitempty"`

	NoiseSources             *PathStore[[]NoiseSource]   `json:"noiseSources,omitempty"`
	MeasurementsByArea       *PathStore[[]Measurement]   `json:"measurementsByArea,omitempty"`
	ControlsByArea           *PathStore[Controls]        `json:"controlsByArea,omitempty"`
	HearingProtectionDevices *PathStore[[]HearingDevice] `json:"hearingProtectionDevices,omitempty"`
	HearingIssuedStatus      *PathStore[IssuedStatus]    `json:"hearingIssuedStatus,omitempty"`
	ExposuresByArea          *PathStore[[]Exposure]      `json:"exposuresByArea,omitempty"`
	Comments                 *PathStore[string]          `json:"comments,omitempty"`
}

// ApplyPatch shallow-merges patch into the aggregate and returns the result.
// It always succeeds in memory; durable persistence is the caller's concern.
func ApplyPatch(s Survey, patch Patch) Survey {
	if patch.SiteName != nil {
		s.SiteName = *patch.SiteName
	}
	if patch.ClientName != nil {
		s.ClientName = *patch.ClientName
	}
	if patch.Address != nil {
		s.Address = *patch.Address
	}
	if patch.Reference != nil {
		s.Reference = *patch.Reference
	}
	if patch.SurveyDate != nil {
		s.SurveyDate = *patch.SurveyDate
	}
	if patch.Surveyor != nil {
		s.Surveyor = *patch.Surveyor
	}
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	if patch.Notes != nil {
		s.Notes = *patch.Notes
	}
	if patch.Equipment != nil {
		s.Equipment = *patch.Equipment
	}
	if patch.Areas != nil {
		s.Areas = *patch.Areas
	}
	if patch.NoiseSources != nil {
		s.NoiseSources = *patch.NoiseSources
	}
	if patch.MeasurementsByArea != nil {
		s.MeasurementsByArea = *patch.MeasurementsByArea
	}
	if patch.ControlsByArea != nil {
		s.ControlsByArea = *patch.ControlsByArea
	}
	if patch.HearingProtectionDevices != nil {
		s.HearingProtectionDevices = *patch.HearingProtectionDevices
	}
	if patch.HearingIssuedStatus != nil {
		s.HearingIssuedStatus = *patch.HearingIssuedStatus
	}
	if patch.ExposuresByArea != nil {
		s.ExposuresByArea = *patch.ExposuresByArea
	}
	if patch.Comments != nil {
		s.Comments = *patch.Comments
	}
	return s
}

// ReconcileAll runs the Reconciler over every category store against the
// aggregate's current tree. It must run after every structural tree mutation,
// against the already-mutated tree, so the stores and the tree are observed
// as one consistent snapshot. Stores with nothing to drop keep their
// identity.
func ReconcileAll(s Survey) Survey {
	s.NoiseSources = Reconcile(s.Areas, s.NoiseSources)
	s.MeasurementsByArea = Reconcile(s.Areas, s.MeasurementsByArea)
	s.ControlsByArea = Reconcile(s.Areas, s.ControlsByArea)
	s.HearingProtectionDevices = Reconcile(s.Areas, s.HearingProtectionDevices)
	s.HearingIssuedStatus = Reconcile(s.Areas, s.HearingIssuedStatus)
	s.ExposuresByArea = Reconcile(s.Areas, s.ExposuresByArea)
	s.Comments = Reconcile(s.Areas, s.Comments)
	return s
}

// RemoveEquipment deletes the equipment with the given ID and clears dangling
// references to it from measurement and exposure records. Unknown IDs are a
// no-op.
func RemoveEquipment(s Survey, equipmentID string) (Survey, bool) {
	index := -1
	for i, item := range s.Equipment {
		if item.ID == equipmentID {
			index = i
			break
		}
	}
	if index < 0 {
		return s, false
	}

	next := make([]Equipment, 0, len(s.Equipment)-1)
	next = append(next, s.Equipment[:index]...)
	s.Equipment = append(next, s.Equipment[index+1:]...)

	measurements := make(PathStore[[]Measurement], len(s.MeasurementsByArea))
	for key, records := range s.MeasurementsByArea {
		cleaned := make([]Measurement, len(records))
		for i, record := range records {
			if record.EquipmentID == equipmentID {
				record.EquipmentID = ""
			}
			cleaned[i] = record
		}
		measurements[key] = cleaned
	}
	s.MeasurementsByArea = measurements

	exposures := make(PathStore[[]Exposure], len(s.ExposuresByArea))
	for key, records := range s.ExposuresByArea {
		cleaned := make([]Exposure, len(records))
		for i, record := range records {
			if record.EquipmentID == equipmentID {
				record.EquipmentID = ""
			}
			cleaned[i] = record
		}
		exposures[key] = cleaned
	}
	s.ExposuresByArea = exposures

	return s, true
}
