package ingestion

import (
	"time"

	"gorm.io/datatypes"
)

// RawEnvelope is one scraped document as it landed. Rows are append-only.
type RawEnvelope struct {
	Seq           int64          `json:"seq" gorm:"primaryKey;autoIncrement;column:seq"`
	Payload       datatypes.JSON `json:"payload" gorm:"column:payload;not null"`
	CapturedAt    time.Time      `json:"captured_at" gorm:"column:captured_at;not null"`
	SourceFile    string         `json:"source_file" gorm:"column:source_file;index"`
	IngestionDate string         `json:"ingestion_date" gorm:"column:ingestion_date;index;not null"`
}

func (RawEnvelope) TableName() string {
	return "raw_job_envelopes"
}

type IngestRequest struct {
	Prefix     string `json:"prefix,omitempty"`
	SourceFile string `json:"source_file,omitempty"`
}

type FileFailure struct {
	Key   string `json:"key"`
	Error string `json:"error"`
}

type IngestResult struct {
	FilesSeen        int           `json:"files_seen"`
	FilesIngested    int           `json:"files_ingested"`
	FilesFailed      int           `json:"files_failed"`
	DocumentsSkipped int           `json:"documents_skipped"`
	Envelopes        int           `json:"envelopes"`
	CapturedAt       time.Time     `json:"captured_at"`
	Failures         []FileFailure `json:"failures,omitempty"`
}
