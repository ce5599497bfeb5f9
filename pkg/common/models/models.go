package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"gorm.io/datatypes"
)

// Event is the envelope published on the stage-events topic and consumed
// from the trigger topic.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // stage.completed, stage.failed, batch.landed
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// JobFields is the typed business shape of one job posting. Nil pointers and
// empty JSON are nulls; a field absent from the raw document never becomes a
// zero value.
type JobFields struct {
	JobID      string  `gorm:"column:job_id;not null;index" json:"id"`
	TrackingID *string `gorm:"column:tracking_id" json:"tracking_id"`

	Title           *string        `gorm:"column:title" json:"title"`
	DescriptionText *string        `gorm:"column:description_text" json:"description_text"`
	DescriptionHTML *string        `gorm:"column:description_html" json:"description_html"`
	SeniorityLevel  *string        `gorm:"column:seniority_level" json:"seniority_level"`
	EmploymentType  *string        `gorm:"column:employment_type" json:"employment_type"`
	JobFunction     datatypes.JSON `gorm:"column:job_function" json:"job_function"`
	Industries      datatypes.JSON `gorm:"column:industries" json:"industries"`

	CompanyName           *string `gorm:"column:company_name;index" json:"company_name"`
	CompanyLinkedinURL    *string `gorm:"column:company_linkedin_url" json:"company_linkedin_url"`
	CompanyLogo           *string `gorm:"column:company_logo" json:"company_logo"`
	CompanyWebsite        *string `gorm:"column:company_website" json:"company_website"`
	CompanyDescription    *string `gorm:"column:company_description" json:"company_description"`
	CompanySlogan         *string `gorm:"column:company_slogan" json:"company_slogan"`
	CompanyEmployeesCount *int64  `gorm:"column:company_employees_count" json:"company_employees_count"`

	CompanyStreetAddress *string `gorm:"column:company_street_address" json:"company_street_address"`
	CompanyCity          *string `gorm:"column:company_city" json:"company_city"`
	CompanyState         *string `gorm:"column:company_state" json:"company_state"`
	CompanyPostalCode    *string `gorm:"column:company_postal_code" json:"company_postal_code"`
	CompanyCountry       *string `gorm:"column:company_country" json:"company_country"`

	Location   *string        `gorm:"column:location" json:"location"`
	Salary     *string        `gorm:"column:salary" json:"salary"`
	SalaryInfo datatypes.JSON `gorm:"column:salary_info" json:"salary_info"`

	PostedAt        *time.Time `gorm:"column:posted_at;type:date" json:"posted_at"`
	ApplicantsCount *int64     `gorm:"column:applicants_count" json:"applicants_count"`

	Link     *string `gorm:"column:link" json:"link"`
	ApplyURL *string `gorm:"column:apply_url" json:"apply_url"`
	InputURL *string `gorm:"column:input_url" json:"input_url"`

	JobPosterName       *string `gorm:"column:job_poster_name" json:"job_poster_name"`
	JobPosterTitle      *string `gorm:"column:job_poster_title" json:"job_poster_title"`
	JobPosterProfileURL *string `gorm:"column:job_poster_profile_url" json:"job_poster_profile_url"`

	Benefits datatypes.JSON `gorm:"column:benefits" json:"benefits"`
}

// Fingerprint hashes the business fields. Two records with equal fingerprints
// carry the same content.
func (f JobFields) Fingerprint() string {
	payload, err := json.Marshal(f)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(payload))
}

// Lineage carries a version back to the raw envelope it was parsed from.
type Lineage struct {
	RawSeq        int64     `gorm:"column:raw_seq" json:"raw_seq"`
	SourceFile    string    `gorm:"column:source_file" json:"_source_file"`
	CapturedAt    time.Time `gorm:"column:captured_at" json:"_ingestion_timestamp"`
	IngestionDate string    `gorm:"column:ingestion_date;index" json:"ingestion_date"`
}

// RunState is the lifecycle of a tracked pipeline or sync run.
type RunState string

const (
	StateQueued    RunState = "queued"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
)

func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
