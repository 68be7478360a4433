// Package gtfscheck runs a GTFS-aware parse over an ingested archive and
// summarises what a transit consumer would see: entity counts and the
// parser's warnings. It complements ingestion, which is schema-agnostic.
package gtfscheck

import (
	"fmt"
	"os"
	"sort"

	"github.com/jamespfennell/gtfs"
	"go.uber.org/zap"
)

// maxWarningSamples bounds Summary.Samples.
const maxWarningSamples = 10

// Summary is the result of checking one feed.
type Summary struct {
	Counts   map[string]int `json:"counts"`
	Warnings int            `json:"warnings"`
	Samples  []string       `json:"samples,omitempty"`
}

// Summarize parses the GTFS static feed at zipPath.
func Summarize(zipPath string) (*Summary, error) {
	b, err := os.ReadFile(zipPath)
	if err != nil {
		return nil, fmt.Errorf("error reading GTFS data: %w", err)
	}
	static, err := gtfs.ParseStatic(b, gtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("error parsing GTFS data: %w", err)
	}

	s := &Summary{
		Counts:   staticDataCounts(static),
		Warnings: len(static.Warnings),
	}
	for i, w := range static.Warnings {
		if i == maxWarningSamples {
			break
		}
		s.Samples = append(s.Samples, fmt.Sprintf("%v", w))
	}
	return s, nil
}

func staticDataCounts(static *gtfs.Static) map[string]int {
	return map[string]int{
		"agencies":  len(static.Agencies),
		"routes":    len(static.Routes),
		"stops":     len(static.Stops),
		"services":  len(static.Services),
		"trips":     len(static.Trips),
		"transfers": len(static.Transfers),
		"shapes":    len(static.Shapes),
	}
}

// Log runs Summarize and logs the outcome. Failures are logged, not
// returned: the check never blocks an otherwise successful ingestion.
func Log(zipPath string, log *zap.Logger) *Summary {
	s, err := Summarize(zipPath)
	if err != nil {
		log.Warn("GTFS check failed", zap.String("archive", zipPath), zap.Error(err))
		return nil
	}

	keys := make([]string, 0, len(s.Counts))
	for k := range s.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := []zap.Field{zap.String("archive", zipPath), zap.Int("warnings", s.Warnings)}
	for _, k := range keys {
		fields = append(fields, zap.Int(k, s.Counts[k]))
	}
	log.Info("GTFS check", fields...)
	for _, w := range s.Samples {
		log.Debug("GTFS warning", zap.String("warning", w))
	}
	return s
}
