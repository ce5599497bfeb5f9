package appsync

import (
	"time"

	"github.com/jobscope/lakehouse/pkg/serving"
	"gorm.io/datatypes"
)

const (
	StatusActive   = "active"
	StatusArchived = "archived"
	StatusDeleted  = "deleted"
)

// ExternalRecord is a row of the application's jobs table. Status is owned by
// the application once it leaves active.
type ExternalRecord struct {
	ID              string         `gorm:"primaryKey;column:id" json:"id"`
	CompanyName     *string        `gorm:"column:company_name" json:"company_name"`
	Title           *string        `gorm:"column:title" json:"title"`
	Location        *string        `gorm:"column:location" json:"location"`
	DescriptionText *string        `gorm:"column:description_text" json:"description_text"`
	JobURL          *string        `gorm:"column:job_url" json:"job_url"`
	PostedAt        *string        `gorm:"column:posted_at" json:"posted_at"`
	SeniorityLevel  *string        `gorm:"column:seniority_level" json:"seniority_level"`
	EmploymentType  *string        `gorm:"column:employment_type" json:"employment_type"`
	ApplicantsCount *int64         `gorm:"column:applicants_count" json:"applicants_count"`
	CompanyWebsite  *string        `gorm:"column:company_website" json:"company_website"`
	JobFunction     datatypes.JSON `gorm:"column:job_function" json:"job_function"`
	Industries      datatypes.JSON `gorm:"column:industries" json:"industries"`
	SalaryInfo      datatypes.JSON `gorm:"column:salary_info" json:"salary_info"`
	SalaryMin       *int64         `gorm:"column:salary_min" json:"salary_min"`
	SalaryMax       *int64         `gorm:"column:salary_max" json:"salary_max"`
	Benefits        datatypes.JSON `gorm:"column:benefits" json:"benefits"`

	CompanyLinkedinURL    *string `gorm:"column:company_linkedin_url" json:"company_linkedin_url"`
	CompanyLogo           *string `gorm:"column:company_logo" json:"company_logo"`
	CompanyDescription    *string `gorm:"column:company_description" json:"company_description"`
	CompanySlogan         *string `gorm:"column:company_slogan" json:"company_slogan"`
	CompanyEmployeesCount *int64  `gorm:"column:company_employees_count" json:"company_employees_count"`
	CompanyCity           *string `gorm:"column:company_city" json:"company_city"`
	CompanyState          *string `gorm:"column:company_state" json:"company_state"`
	CompanyCountry        *string `gorm:"column:company_country" json:"company_country"`
	CompanyPostalCode     *string `gorm:"column:company_postal_code" json:"company_postal_code"`
	CompanyStreetAddress  *string `gorm:"column:company_street_address" json:"company_street_address"`

	JobPosterName       *string `gorm:"column:job_poster_name" json:"job_poster_name"`
	JobPosterTitle      *string `gorm:"column:job_poster_title" json:"job_poster_title"`
	JobPosterProfileURL *string `gorm:"column:job_poster_profile_url" json:"job_poster_profile_url"`

	ApplyURL *string `gorm:"column:apply_url" json:"apply_url"`
	InputURL *string `gorm:"column:input_url" json:"input_url"`

	Status    string    `gorm:"column:status;not null;index" json:"status"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (ExternalRecord) TableName() string {
	return "jobs"
}

// upsertColumns are the pipeline-managed columns rewritten on conflict.
var upsertColumns = []string{
	"company_name", "title", "location", "description_text", "job_url", "posted_at",
	"seniority_level", "employment_type", "applicants_count", "company_website",
	"job_function", "industries", "salary_info", "salary_min", "salary_max", "benefits",
	"company_linkedin_url", "company_logo", "company_description", "company_slogan",
	"company_employees_count", "company_city", "company_state", "company_country",
	"company_postal_code", "company_street_address",
	"job_poster_name", "job_poster_title", "job_poster_profile_url",
	"apply_url", "input_url", "status", "updated_at",
}

type Mapper struct {
	now func() time.Time
}

func NewMapper() *Mapper {
	return &Mapper{now: time.Now}
}

// Map converts a serving row into the application's schema. Synced rows are
// always active; rows the application deactivated never reach Map.
func (m *Mapper) Map(r serving.ServingRecord) ExternalRecord {
	var postedAt *string
	if r.PostedAt != nil {
		s := r.PostedAt.Format("2006-01-02")
		postedAt = &s
	}

	return ExternalRecord{
		ID:              r.JobID,
		CompanyName:     r.CompanyName,
		Title:           r.Title,
		Location:        r.Location,
		DescriptionText: r.DescriptionText,
		JobURL:          r.Link,
		PostedAt:        postedAt,
		SeniorityLevel:  r.SeniorityLevel,
		EmploymentType:  r.EmploymentType,
		ApplicantsCount: r.ApplicantsCount,
		CompanyWebsite:  r.CompanyWebsite,
		JobFunction:     r.JobFunction,
		Industries:      r.Industries,
		SalaryInfo:      r.SalaryInfo,
		Benefits:        r.Benefits,

		CompanyLinkedinURL:    r.CompanyLinkedinURL,
		CompanyLogo:           r.CompanyLogo,
		CompanyDescription:    r.CompanyDescription,
		CompanySlogan:         r.CompanySlogan,
		CompanyEmployeesCount: r.CompanyEmployeesCount,
		CompanyCity:           r.CompanyCity,
		CompanyState:          r.CompanyState,
		CompanyCountry:        r.CompanyCountry,
		CompanyPostalCode:     r.CompanyPostalCode,
		CompanyStreetAddress:  r.CompanyStreetAddress,

		JobPosterName:       r.JobPosterName,
		JobPosterTitle:      r.JobPosterTitle,
		JobPosterProfileURL: r.JobPosterProfileURL,

		ApplyURL: r.ApplyURL,
		InputURL: r.InputURL,

		Status:    StatusActive,
		UpdatedAt: m.now().UTC(),
	}
}
