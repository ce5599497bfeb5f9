package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jobscope/lakehouse/pkg/common/models"
	"github.com/jobscope/lakehouse/pkg/ingestion"
	"gorm.io/datatypes"
)

var errMissingID = errors.New("job id missing")

// JobRecord is one parsed raw document, ready to be reconciled.
type JobRecord struct {
	models.JobFields
	models.Lineage
}

type Transformer struct {
	dateLayouts []string
}

func NewTransformer() *Transformer {
	return &Transformer{dateLayouts: []string{"2006-01-02", time.RFC3339}}
}

// Parse extracts the typed job schema from a raw envelope. Absent fields stay
// null and values that fail coercion become null. Only a missing id is fatal.
func (t *Transformer) Parse(env ingestion.RawEnvelope) (JobRecord, error) {
	key := fmt.Sprintf("seq %d", env.Seq)

	dec := json.NewDecoder(bytes.NewReader(env.Payload))
	dec.UseNumber()
	var data map[string]interface{}
	if err := dec.Decode(&data); err != nil {
		return JobRecord{}, ingestion.NewSourceError(key, fmt.Errorf("decode payload: %w", err))
	}
	if data == nil {
		return JobRecord{}, ingestion.NewSourceError(key, errors.New("payload is not an object"))
	}

	id := getString(data["id"])
	if id == "" {
		return JobRecord{}, ingestion.NewSourceError(key, errMissingID)
	}

	address := extractMap(data["companyAddress"])

	fields := models.JobFields{
		JobID:      id,
		TrackingID: optString(data["trackingId"]),

		Title:           optString(data["title"]),
		DescriptionText: optString(data["descriptionText"]),
		DescriptionHTML: optString(data["descriptionHtml"]),
		SeniorityLevel:  optString(data["seniorityLevel"]),
		EmploymentType:  optString(data["employmentType"]),
		JobFunction:     optJSON(data["jobFunction"]),
		Industries:      optJSON(data["industries"]),

		CompanyName:           optString(data["companyName"]),
		CompanyLinkedinURL:    optString(data["companyLinkedinUrl"]),
		CompanyLogo:           optString(data["companyLogo"]),
		CompanyWebsite:        optString(data["companyWebsite"]),
		CompanyDescription:    optString(data["companyDescription"]),
		CompanySlogan:         optString(data["companySlogan"]),
		CompanyEmployeesCount: optInt(data["companyEmployeesCount"]),

		CompanyStreetAddress: optString(address["streetAddress"]),
		CompanyCity:          optString(address["addressLocality"]),
		CompanyState:         optString(address["addressRegion"]),
		CompanyPostalCode:    optString(address["postalCode"]),
		CompanyCountry:       optString(address["addressCountry"]),

		Location:   optString(data["location"]),
		Salary:     optString(data["salary"]),
		SalaryInfo: optJSON(data["salaryInfo"]),

		PostedAt:        t.optDate(data["postedAt"]),
		ApplicantsCount: optInt(data["applicantsCount"]),

		Link:     optString(data["link"]),
		ApplyURL: optString(data["applyUrl"]),
		InputURL: optString(data["inputUrl"]),

		JobPosterName:       optString(data["jobPosterName"]),
		JobPosterTitle:      optString(data["jobPosterTitle"]),
		JobPosterProfileURL: optString(data["jobPosterProfileUrl"]),

		Benefits: optJSON(data["benefits"]),
	}

	return JobRecord{
		JobFields: fields,
		Lineage: models.Lineage{
			RawSeq:        env.Seq,
			SourceFile:    env.SourceFile,
			CapturedAt:    env.CapturedAt,
			IngestionDate: env.IngestionDate,
		},
	}, nil
}

func (t *Transformer) optDate(v interface{}) *time.Time {
	s := getString(v)
	if s == "" {
		return nil
	}
	for _, layout := range t.dateLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			day := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
			return &day
		}
	}
	return nil
}

func optString(v interface{}) *string {
	switch val := v.(type) {
	case string:
		return &val
	case json.Number:
		s := val.String()
		return &s
	case bool:
		s := strconv.FormatBool(val)
		return &s
	default:
		return nil
	}
}

func optInt(v interface{}) *int64 {
	var n int64
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			n = i
		} else if f, err := val.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
			n = int64(f)
		} else {
			return nil
		}
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	return &n
}

// optJSON keeps free-form nested values as canonical JSON.
func optJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(encoded)
}

func extractMap(value interface{}) map[string]interface{} {
	if m, ok := value.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{}
}

func getString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		return ""
	}
}
