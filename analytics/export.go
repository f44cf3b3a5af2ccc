package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// Exporter receives closed daily summaries.
type Exporter interface {
	Export(ctx context.Context, days []DailyStats) error
}

// JSONExporter writes one JSON document per day, newline separated.
type JSONExporter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewJSONExporter(w io.Writer) *JSONExporter {
	return &JSONExporter{w: w}
}

func (e *JSONExporter) Export(_ context.Context, days []DailyStats) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	enc := json.NewEncoder(e.w)
	for _, d := range days {
		if err := enc.Encode(d); err != nil {
			return err
		}
	}
	return nil
}

// LogExporter logs each day as a structured record.
type LogExporter struct {
	log *slog.Logger
}

func NewLogExporter(log *slog.Logger) *LogExporter {
	if log == nil {
		log = slog.Default()
	}
	return &LogExporter{log: log}
}

func (e *LogExporter) Export(ctx context.Context, days []DailyStats) error {
	for _, d := range days {
		e.log.InfoContext(ctx, "daily engagement",
			"day", d.Day,
			"notified_users", d.NotifiedUsers,
			"level_ups", d.LevelUps,
			"highest_level", d.HighestLevel,
			"promotions", d.Promotions,
			"restorations", d.Restorations,
			"decay_warnings", d.DecayWarnings,
			"energy_full", d.EnergyFull,
		)
	}
	return nil
}

// MultiExporter fans out to several exporters and joins their errors.
type MultiExporter []Exporter

func (m MultiExporter) Export(ctx context.Context, days []DailyStats) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, days); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
