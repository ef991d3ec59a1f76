package database

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"corepick/internal/trace"
)

// SpoolArtifact is the on-disk fallback for a run whose results could not be
// published to the database.
type SpoolArtifact struct {
	Version int `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	RunID          int    `json:"run_id"`
	BenchName      string `json:"bench_name"`
	ConfigChecksum string `json:"config_checksum"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	ConfigContent string `json:"config_content"`

	Summary   trace.Summary    `json:"summary"`
	Decisions []trace.Decision `json:"decisions,omitempty"`
	Metadata  *RunMetadata     `json:"metadata"`
}

func DefaultSpoolDir() string {
	if v := strings.TrimSpace(os.Getenv("COREPICK_SPOOL_DIR")); v != "" {
		return v
	}
	return "spool"
}

// WriteSpoolArtifact writes a gzip-compressed JSON artifact to disk atomically.
// It returns the final file path.
func WriteSpoolArtifact(dir string, artifact *SpoolArtifact) (string, error) {
	if artifact == nil {
		return "", fmt.Errorf("spool artifact is nil")
	}
	if dir == "" {
		dir = DefaultSpoolDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	checksum := artifact.ConfigChecksum
	if checksum == "" {
		checksum = "nocsum"
	}
	name := fmt.Sprintf(
		"run_%d_%s_%s.json.gz",
		artifact.RunID,
		artifact.CreatedAt.UTC().Format("20060102T150405Z"),
		checksum,
	)
	finalPath := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, name+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	enc.SetIndent("", "  ")
	if err := enc.Encode(artifact); err != nil {
		_ = gz.Close()
		return "", err
	}
	if err := gz.Close(); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// BuildSpoolArtifact constructs a spool artifact from in-memory run results.
func BuildSpoolArtifact(runID int, meta *RunMetadata, configContent string, summary trace.Summary, decisions []trace.Decision, startTime, endTime time.Time) *SpoolArtifact {
	name, checksum := "", ""
	if meta != nil {
		name = meta.BenchName
		checksum = meta.ConfigChecksum
	}

	return &SpoolArtifact{
		Version:        1,
		CreatedAt:      time.Now(),
		RunID:          runID,
		BenchName:      name,
		ConfigChecksum: checksum,
		StartTime:      startTime,
		EndTime:        endTime,
		ConfigContent:  configContent,
		Summary:        summary,
		Decisions:      decisions,
		Metadata:       meta,
	}
}
