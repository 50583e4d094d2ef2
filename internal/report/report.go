// Package report writes a YAML summary next to the output of a run.
package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vk/rastermosaic/internal/mosaic"
	"gopkg.in/yaml.v3"
)

// Suffix is appended to the artifact path to name the report.
const Suffix = ".report.yaml"

// Report is the serialised summary of a run.
type Report struct {
	RunID    string    `yaml:"run_id"`
	Status   string    `yaml:"status"`
	Stage    string    `yaml:"stage"`
	Error    string    `yaml:"error,omitempty"`
	Started  time.Time `yaml:"started"`
	Finished time.Time `yaml:"finished"`
	Elapsed  string    `yaml:"elapsed"`

	InputDir string `yaml:"input_dir"`
	Artifact string `yaml:"artifact,omitempty"`
	Size     string `yaml:"size,omitempty"`
	Bytes    int64  `yaml:"bytes,omitempty"`

	Units      int       `yaml:"units"`
	Tiles      int       `yaml:"tiles"`
	Failures   []Failure `yaml:"failures,omitempty"`
	NotStarted []string  `yaml:"not_started,omitempty"`

	Mosaic    *Grid         `yaml:"mosaic,omitempty"`
	Stages    []StageTiming `yaml:"stages"`
	Published string        `yaml:"published,omitempty"`
}

// Failure is a unit that did not produce a tile.
type Failure struct {
	Unit  string `yaml:"unit"`
	Error string `yaml:"error"`
}

// Grid describes the merged raster.
type Grid struct {
	Width      int        `yaml:"width"`
	Height     int        `yaml:"height"`
	Pixels     string     `yaml:"pixels"`
	EPSG       int        `yaml:"epsg"`
	Resolution [2]float64 `yaml:"resolution,flow"`
	Extent     [4]float64 `yaml:"extent,flow"`
	NoData     uint16     `yaml:"nodata"`
}

// StageTiming is the wall time spent in one stage.
type StageTiming struct {
	Stage    string `yaml:"stage"`
	Duration string `yaml:"duration"`
}

// Status values mirror the ledger.
func status(err error) string {
	if err == nil {
		return "succeeded"
	}
	var ie *mosaic.InterruptError
	if errors.As(err, &ie) {
		return "interrupted"
	}
	return "failed"
}

// New builds the report of a finished run.
func New(inputDir string, res *mosaic.Result, runErr error) *Report {
	r := &Report{
		RunID:    res.RunID,
		Status:   status(runErr),
		Stage:    res.Stage.String(),
		Started:  res.Started.UTC(),
		Finished: res.Finished.UTC(),
		Elapsed:  res.Finished.Sub(res.Started).Round(time.Millisecond).String(),
		InputDir: inputDir,
		Units:    res.Units,
		Tiles:    len(res.Tiles),
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	if res.Artifact != "" {
		r.Artifact = res.Artifact
		r.Bytes = res.Bytes
		r.Size = humanize.Bytes(uint64(res.Bytes))
	}
	for _, f := range res.Failures {
		r.Failures = append(r.Failures, Failure{Unit: f.Unit.Path, Error: f.Err.Error()})
	}
	for _, u := range res.Skipped {
		r.NotStarted = append(r.NotStarted, u.Path)
	}
	if m := res.Mosaic; m.Width > 0 {
		ext := m.Extent()
		r.Mosaic = &Grid{
			Width:      m.Width,
			Height:     m.Height,
			Pixels:     humanize.Comma(int64(m.Width) * int64(m.Height)),
			EPSG:       m.EPSG,
			Resolution: [2]float64{m.ResX, m.ResY},
			Extent:     [4]float64{ext.MinX, ext.MinY, ext.MaxX, ext.MaxY},
			NoData:     m.NoData,
		}
	}

	stages := make([]mosaic.Stage, 0, len(res.Durations))
	for s := range res.Durations {
		stages = append(stages, s)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i] < stages[j] })
	r.Stages = make([]StageTiming, 0, len(stages))
	for _, s := range stages {
		r.Stages = append(r.Stages, StageTiming{Stage: s.String(), Duration: res.Durations[s].Round(time.Microsecond).String()})
	}
	return r
}

// PathFor returns the report path of an artifact.
func PathFor(artifact string) string { return artifact + Suffix }

// Write stores the report at path, replacing any previous one.
func Write(path string, r *Report) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating report: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := yaml.NewEncoder(tmp)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("encoding report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// Read loads a report written by Write.
func Read(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decoding report %s: %w", path, err)
	}
	return &r, nil
}
