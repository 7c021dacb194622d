package store

import (
	"sort"
)

// SchemaVersion is the schema version stamped on rows and the index.
const SchemaVersion = 1

// RawPayload is the raw benchmark result document produced by one run of the
// benchmark binary.
type RawPayload struct {
	SchemaVersion int        `json:"schemaVersion"`
	Context       RawContext `json:"context"`
	Cases         []RawCase  `json:"cases"`
}

// RawContext carries environment and reproducibility metadata. Fields are
// passed through into rows untouched.
type RawContext struct {
	Label                  string  `json:"label,omitempty"`
	GitSHA                 string  `json:"gitSha,omitempty"`
	CreatedAt              string  `json:"createdAt,omitempty"`
	Host                   string  `json:"host,omitempty"`
	Suite                  string  `json:"suite,omitempty"`
	Scale                  string  `json:"scale,omitempty"`
	Iterations             int     `json:"iterations,omitempty"`
	Warmup                 int     `json:"warmup,omitempty"`
	ImageVersion           string  `json:"imageVersion,omitempty"`
	HardeningProfileID     string  `json:"hardeningProfileId,omitempty"`
	HardeningProfileSHA256 string  `json:"hardeningProfileSha256,omitempty"`
	CPUModel               string  `json:"cpuModel,omitempty"`
	CPUMicrocode           string  `json:"cpuMicrocode,omitempty"`
	Kernel                 string  `json:"kernel,omitempty"`
	BootParams             string  `json:"bootParams,omitempty"`
	CPUStealPct            float64 `json:"cpuStealPct,omitempty"`
	NUMATopology           string  `json:"numaTopology,omitempty"`
	EgressPolicySHA256     string  `json:"egressPolicySha256,omitempty"`
	RunMode                string  `json:"runMode,omitempty"`
	MaintenanceWindowID    string  `json:"maintenanceWindowId,omitempty"`
}

// RawCase is one benchmark case outcome inside a raw payload.
type RawCase struct {
	Case    string      `json:"case"`
	Success bool        `json:"success"`
	Samples []RawSample `json:"samples"`
	Failure *RawFailure `json:"failure,omitempty"`
}

// RawSample is a single timing sample, optionally with extra metrics.
type RawSample struct {
	ElapsedMs float64            `json:"elapsedMs"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
}

// RawFailure describes a failed case.
type RawFailure struct {
	Message string `json:"message,omitempty"`
}

// Row is one normalized (run, case) record in the append log.
type Row struct {
	SchemaVersion           int       `json:"schemaVersion"`
	RunID                   string    `json:"runId"`
	IngestedAt              string    `json:"ingestedAt"`
	Revision                string    `json:"revision"`
	RevisionCommitTimestamp string    `json:"revisionCommitTimestamp"`
	BenchmarkCreatedAt      string    `json:"benchmarkCreatedAt,omitempty"`
	Label                   string    `json:"label,omitempty"`
	GitSHA                  string    `json:"gitSha,omitempty"`
	Host                    string    `json:"host,omitempty"`
	Suite                   string    `json:"suite,omitempty"`
	Scale                   string    `json:"scale,omitempty"`
	Iterations              int       `json:"iterations,omitempty"`
	Warmup                  int       `json:"warmup,omitempty"`
	Case                    string    `json:"case"`
	Success                 bool      `json:"success"`
	FailureReason           string    `json:"failureReason,omitempty"`
	SampleCount             int       `json:"sampleCount"`
	SampleValuesMs          []float64 `json:"sampleValuesMs"`
	BestMs                  *float64  `json:"bestMs"`
	MinMs                   *float64  `json:"minMs"`
	MaxMs                   *float64  `json:"maxMs"`
	MeanMs                  *float64  `json:"meanMs"`
	MedianMs                *float64  `json:"medianMs"`
	ImageVersion            string    `json:"imageVersion,omitempty"`
	HardeningProfileID      string    `json:"hardeningProfileId,omitempty"`
	HardeningProfileSHA256  string    `json:"hardeningProfileSha256,omitempty"`
	CPUModel                string    `json:"cpuModel,omitempty"`
	CPUMicrocode            string    `json:"cpuMicrocode,omitempty"`
	Kernel                  string    `json:"kernel,omitempty"`
	BootParams              string    `json:"bootParams,omitempty"`
	CPUStealPct             float64   `json:"cpuStealPct,omitempty"`
	NUMATopology            string    `json:"numaTopology,omitempty"`
	EgressPolicySHA256      string    `json:"egressPolicySha256,omitempty"`
	RunMode                 string    `json:"runMode,omitempty"`
	MaintenanceWindowID     string    `json:"maintenanceWindowId,omitempty"`
	SourceResultPath        string    `json:"sourceResultPath"`
}

// normalizeRow flattens one raw case into an append-log row, deriving the
// timing statistics from the declared elapsed samples.
func normalizeRow(runID, ingestedAt, revision, commitTimestamp, sourcePath string, ctx RawContext, c RawCase) Row {
	elapsed := make([]float64, 0, len(c.Samples))
	for _, sample := range c.Samples {
		elapsed = append(elapsed, sample.ElapsedMs)
	}

	row := Row{
		SchemaVersion:           SchemaVersion,
		RunID:                   runID,
		IngestedAt:              ingestedAt,
		Revision:                revision,
		RevisionCommitTimestamp: commitTimestamp,
		BenchmarkCreatedAt:      ctx.CreatedAt,
		Label:                   ctx.Label,
		GitSHA:                  ctx.GitSHA,
		Host:                    ctx.Host,
		Suite:                   ctx.Suite,
		Scale:                   ctx.Scale,
		Iterations:              ctx.Iterations,
		Warmup:                  ctx.Warmup,
		Case:                    c.Case,
		Success:                 c.Success,
		SampleCount:             len(elapsed),
		SampleValuesMs:          elapsed,
		ImageVersion:            ctx.ImageVersion,
		HardeningProfileID:      ctx.HardeningProfileID,
		HardeningProfileSHA256:  ctx.HardeningProfileSHA256,
		CPUModel:                ctx.CPUModel,
		CPUMicrocode:            ctx.CPUMicrocode,
		Kernel:                  ctx.Kernel,
		BootParams:              ctx.BootParams,
		CPUStealPct:             ctx.CPUStealPct,
		NUMATopology:            ctx.NUMATopology,
		EgressPolicySHA256:      ctx.EgressPolicySHA256,
		RunMode:                 ctx.RunMode,
		MaintenanceWindowID:     ctx.MaintenanceWindowID,
		SourceResultPath:        sourcePath,
	}

	if c.Failure != nil {
		row.FailureReason = c.Failure.Message
	}

	if len(elapsed) > 0 {
		minV, maxV := elapsed[0], elapsed[0]

		var sum float64

		for _, v := range elapsed {
			if v < minV {
				minV = v
			}

			if v > maxV {
				maxV = v
			}

			sum += v
		}

		mean := sum / float64(len(elapsed))
		median := Median(elapsed)

		row.BestMs = &minV
		row.MinMs = &minV
		row.MaxMs = &maxV
		row.MeanMs = &mean
		row.MedianMs = &median
	}

	return row
}

// Median returns the middle value of values, or the average of the two
// middle values for even counts. The input slice is not modified.
func Median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}

	return (sorted[n/2-1] + sorted[n/2]) / 2
}
