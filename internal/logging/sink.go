// Package logging provides sink implementations for the Model's log
// bindings and root-finding output, plus a Substrate convenience type that
// batches named columns for export — the LoggingSubstrate component of
// spec.md §4.1/§4.5, split out from Model so host code can compose sinks
// without depending on the model package's internals.
package logging

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/myokit/beta/internal/model"
)

// MemorySink is a growable in-memory sequence sink for tests and simple
// hosts.
type MemorySink struct {
	Values []float64
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) AppendFloat(v float64) error {
	s.Values = append(s.Values, v)
	return nil
}

func (s *MemorySink) Len() int { return len(s.Values) }

// RootSink receives (time, direction) tuples from the driver's root
// finding output (spec.md §6).
type RootSink interface {
	AppendRoot(t float64, direction int) error
}

// MemoryRootSink is the in-memory RootSink implementation.
type MemoryRootSink struct {
	Times      []float64
	Directions []int
}

func NewMemoryRootSink() *MemoryRootSink { return &MemoryRootSink{} }

func (s *MemoryRootSink) AppendRoot(t float64, direction int) error {
	if direction != -1 && direction != 1 {
		return fmt.Errorf("logging: invalid root direction %d", direction)
	}
	s.Times = append(s.Times, t)
	s.Directions = append(s.Directions, direction)
	return nil
}

// MemoryMatrixSink stores every sensitivity matrix snapshot appended to it.
type MemoryMatrixSink struct {
	Snapshots [][][]float64
}

func NewMemoryMatrixSink() *MemoryMatrixSink { return &MemoryMatrixSink{} }

func (s *MemoryMatrixSink) AppendMatrix(rows [][]float64) error {
	snap := make([][]float64, len(rows))
	for i, row := range rows {
		snap[i] = append([]float64(nil), row...)
	}
	s.Snapshots = append(s.Snapshots, snap)
	return nil
}

// columnSink adapts one named column of a Substrate to model.Sink.
type columnSink struct {
	sub  *Substrate
	name string
}

func (c *columnSink) AppendFloat(v float64) error {
	c.sub.append(c.name, v)
	return nil
}

func (c *columnSink) Len() int { return len(c.sub.columns[c.name]) }

// Substrate binds an ordered set of named columns and can flush them as a
// CSV table once a run completes, using encoding/csv exactly as the
// teacher's internal/store package does for run export.
type Substrate struct {
	order   []string
	columns map[string][]float64
}

func NewSubstrate() *Substrate {
	return &Substrate{columns: make(map[string][]float64)}
}

// Bind returns a model.Sink for the named column, registering it in
// column order on first use.
func (s *Substrate) Bind(name string) model.Sink {
	if _, ok := s.columns[name]; !ok {
		s.order = append(s.order, name)
		s.columns[name] = nil
	}
	return &columnSink{sub: s, name: name}
}

func (s *Substrate) append(name string, v float64) {
	s.columns[name] = append(s.columns[name], v)
}

// Column returns the accumulated values for a bound column.
func (s *Substrate) Column(name string) []float64 { return s.columns[name] }

// WriteCSV writes every bound column as a CSV table, one row per logged
// point, header row first. All columns must have equal length.
func (s *Substrate) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	defer cw.Flush()
	if err := cw.Write(s.order); err != nil {
		return err
	}
	if len(s.order) == 0 {
		return nil
	}
	n := len(s.columns[s.order[0]])
	row := make([]string, len(s.order))
	for i := 0; i < n; i++ {
		for j, name := range s.order {
			row[j] = strconv.FormatFloat(s.columns[name][i], 'g', -1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return nil
}
