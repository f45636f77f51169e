package manifest

// FileName is the manifest written after each batch run.
const FileName = "avifbatch.manifest.json"

// SupportedManifestVersion is the current schema version.
const SupportedManifestVersion = 1

// Manifest records what a run produced so it can be audited later.
type Manifest struct {
	Version     int     `json:"version"`
	GeneratedAt string  `json:"generated_at"`
	RunID       string  `json:"run_id"`
	Settings    RunInfo `json:"settings"`
	Entries     []Entry `json:"entries"`
	Stats       Stats   `json:"stats"`
}

// RunInfo captures the parameters of the run for diagnostics.
type RunInfo struct {
	Profile     string  `json:"profile,omitempty"`
	Encoder     string  `json:"encoder"`
	Quality     int     `json:"quality"`
	Speed       int     `json:"speed"`
	Subsampling string  `json:"subsampling"`
	BitDepth    int     `json:"bit_depth"`
	Lossless    bool    `json:"lossless,omitempty"`
	Naming      string  `json:"naming"`
	TargetSSIM  float64 `json:"target_ssim,omitempty"`
	Workers     int     `json:"workers"`
	Threads     int     `json:"threads"`
}

// Entry is one job's outcome. Paths are relative to the manifest's
// directory when they live beneath it.
type Entry struct {
	Source       string   `json:"source"`
	Output       string   `json:"output,omitempty"`
	Status       string   `json:"status"`
	Kind         string   `json:"kind,omitempty"`
	Error        string   `json:"error,omitempty"`
	SkipReason   string   `json:"skip_reason,omitempty"`
	InputSize    int64    `json:"input_size"`
	OutputSize   int64    `json:"output_size,omitempty"`
	SourceDigest string   `json:"source_digest,omitempty"`
	OutputDigest string   `json:"output_digest,omitempty"`
	Width        int      `json:"width,omitempty"`
	Height       int      `json:"height,omitempty"`
	Quality      int      `json:"quality,omitempty"`
	SSIM         *float64 `json:"ssim,omitempty"`
	PSNR         *float64 `json:"psnr,omitempty"` // absent when unscored or lossless-identical
	ElapsedMS    int64    `json:"elapsed_ms"`
}

// Stats aggregates run metrics. Byte totals cover written outputs only.
type Stats struct {
	TotalEntries     int   `json:"total_entries"`
	Done             int   `json:"done"`
	Failed           int   `json:"failed"`
	Skipped          int   `json:"skipped"`
	Cancelled        int   `json:"cancelled"`
	TotalInputBytes  int64 `json:"total_input_bytes"`
	TotalOutputBytes int64 `json:"total_output_bytes"`
}
