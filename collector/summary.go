package collector

import (
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/google/uuid"
	"www.velocidex.com/golang/triage/config"
	"www.velocidex.com/golang/triage/executor"
	"www.velocidex.com/golang/triage/json"
)

type OverallStatus string

const (
	StatusOk       OverallStatus = "ok"
	StatusDegraded OverallStatus = "degraded"
	StatusFailed   OverallStatus = "failed"
)

// Summary is the driver visible record of the whole collection,
// also serialized as the final archive entry.
type Summary struct {
	CollectionId  string
	Hostname      string
	Description   string
	StartTime     time.Time
	EndTime       time.Time
	OverallStatus OverallStatus
	Cancelled     bool

	// Artifact names by outcome. A required artifact always appears
	// in one of the two lists.
	Acquired []string
	Failed   []string

	Results  []*executor.CollectionResult
	Warnings []string

	TotalBytes int64
}

func (self *Collector) buildSummary(
	manifest *config.Manifest, start time.Time) *Summary {

	results := self.sink.Results()

	summary := &Summary{
		CollectionId:  uuid.New().String(),
		Hostname:      Hostname(),
		Description:   manifest.Description,
		StartTime:     start,
		EndTime:       time.Now().UTC(),
		OverallStatus: StatusOk,
		Cancelled:     self.cancelled,
		Results:       results,
		Warnings:      self.warnings,
	}

	// Aggregate per artifact: an artifact is acquired only when at
	// least one of its tasks succeeded and none hard-failed.
	type tally struct {
		ok       int
		failed   int
		required bool
	}
	artifacts := ordereddict.NewDict()

	for _, result := range results {
		summary.TotalBytes += result.BytesRead

		value, pres := artifacts.Get(result.ArtifactName)
		counts, _ := value.(*tally)
		if !pres {
			counts = &tally{}
			artifacts.Set(result.ArtifactName, counts)
		}

		counts.required = counts.required || result.Required
		if result.Status.IsFailure() {
			counts.failed++
		} else {
			counts.ok++
		}
	}

	for _, name := range artifacts.Keys() {
		value, _ := artifacts.Get(name)
		counts := value.(*tally)

		// Any failure inside a required artifact's expansion
		// degrades the whole artifact.
		if counts.failed == 0 {
			summary.Acquired = append(summary.Acquired, name)
			continue
		}

		summary.Failed = append(summary.Failed, name)
		if counts.required {
			summary.OverallStatus = StatusDegraded
		}
	}

	// Required artifacts whose expansion matched nothing never ran a
	// task, so they only exist in the planner's list. Zero successes
	// still means degraded.
	for _, name := range self.empty_required {
		summary.Failed = append(summary.Failed, name)
		summary.OverallStatus = StatusDegraded
	}

	if self.cancelled && summary.OverallStatus == StatusOk {
		summary.OverallStatus = StatusDegraded
	}

	return summary
}

// ToDict renders the summary with stable key order for the archive
// entry.
func (self *Summary) ToDict() *ordereddict.Dict {
	var result_records []*ordereddict.Dict
	for _, r := range self.Results {
		result_records = append(result_records, ordereddict.NewDict().
			Set("task_id", r.TaskId).
			Set("artifact", r.ArtifactName).
			Set("status", string(r.Status)).
			Set("source", r.SourcePath).
			Set("destination", r.Destination).
			Set("bytes_read", r.BytesRead).
			Set("duration_ms", r.Duration.Milliseconds()).
			Set("sha256", r.Sha256).
			Set("error", r.Error).
			Set("required", r.Required))
	}

	return ordereddict.NewDict().
		Set("collection_id", self.CollectionId).
		Set("hostname", self.Hostname).
		Set("description", self.Description).
		Set("start_time", self.StartTime.Format(time.RFC3339)).
		Set("end_time", self.EndTime.Format(time.RFC3339)).
		Set("overall_status", string(self.OverallStatus)).
		Set("cancelled", self.Cancelled).
		Set("total_bytes", self.TotalBytes).
		Set("acquired", self.Acquired).
		Set("failed", self.Failed).
		Set("warnings", self.Warnings).
		Set("results", result_records)
}

func marshalRecord(record interface{}) ([]byte, error) {
	return json.MarshalIndent(record)
}
