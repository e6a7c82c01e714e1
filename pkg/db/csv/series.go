package csv

import (
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/zephyr-analytics/zephscan/pkg/db"
	"github.com/zephyr-analytics/zephscan/pkg/db/models/indexer"
)

// order is the height discipline a series file must keep.
type order int

const (
	anyOrder order = iota
	nonDecreasing
	strictlyIncreasing
	gapless
)

// series is one CSV file mirrored in memory.
type series[T any] struct {
	path   string
	cols   []indexer.ColumnDef
	order  order
	encode func(*T) []string
	decode func([]string) (*T, error)
	block  func(*T) uint64
	rows   []*T
}

func (s *series[T]) header() []string {
	return indexer.ColumnNames(s.cols)
}

// load reads the file, validating the header and the height discipline. A missing file
// is an empty series.
func (s *series[T]) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.rows = nil
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	r := stdcsv.NewReader(f)
	r.FieldsPerRecord = len(s.cols)
	r.ReuseRecord = false

	head, err := r.Read()
	if errors.Is(err, io.EOF) {
		s.rows = nil
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", db.ErrCorrupt, s.path, err)
	}
	if !slices.Equal(head, s.header()) {
		return fmt.Errorf("%w: %s: header %v, want %v", db.ErrCorrupt, s.path, head, s.header())
	}

	var rows []*T
	for line := 2; ; line++ {
		rec, rErr := r.Read()
		if errors.Is(rErr, io.EOF) {
			break
		}
		if rErr != nil {
			return fmt.Errorf("%w: %s: %v", db.ErrCorrupt, s.path, rErr)
		}
		row, dErr := s.decode(rec)
		if dErr != nil {
			return fmt.Errorf("%w: %s line %d: %v", db.ErrCorrupt, s.path, line, dErr)
		}
		if len(rows) > 0 {
			if cErr := s.check(s.block(rows[len(rows)-1]), s.block(row)); cErr != nil {
				return fmt.Errorf("%w: %s line %d: %v", db.ErrCorrupt, s.path, line, cErr)
			}
		}
		rows = append(rows, row)
	}
	s.rows = rows
	return nil
}

func (s *series[T]) check(prev, next uint64) error {
	switch s.order {
	case nonDecreasing:
		if next < prev {
			return fmt.Errorf("block %d after %d", next, prev)
		}
	case strictlyIncreasing:
		if next <= prev {
			return fmt.Errorf("block %d not above %d", next, prev)
		}
	case gapless:
		if next != prev+1 {
			return fmt.Errorf("block %d does not follow %d", next, prev)
		}
	}
	return nil
}

// last returns the final row, nil for an empty series.
func (s *series[T]) last() *T {
	if len(s.rows) == 0 {
		return nil
	}
	return s.rows[len(s.rows)-1]
}

// append validates then writes rows to the end of the file, creating it with a header.
func (s *series[T]) append(rows []*T) error {
	if len(rows) == 0 {
		return nil
	}
	prev := s.last()
	for _, row := range rows {
		if prev != nil {
			if err := s.check(s.block(prev), s.block(row)); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(s.path), err)
			}
		}
		prev = row
	}

	fresh := false
	if _, err := os.Stat(s.path); errors.Is(err, os.ErrNotExist) {
		fresh = true
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w := stdcsv.NewWriter(f)
	if fresh {
		_ = w.Write(s.header())
	}
	for _, row := range rows {
		_ = w.Write(s.encode(row))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.rows = append(s.rows, rows...)
	return nil
}

// rewrite replaces the file with the in-memory rows through a temp file.
func (s *series[T]) rewrite() error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := stdcsv.NewWriter(f)
	_ = w.Write(s.header())
	for _, row := range s.rows {
		_ = w.Write(s.encode(row))
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// keepThrough drops rows above height.
func (s *series[T]) keepThrough(height uint64) error {
	kept := s.rows[:0]
	for _, row := range s.rows {
		if s.block(row) <= height {
			kept = append(kept, row)
		}
	}
	s.rows = kept
	return s.rewrite()
}

func (s *series[T]) reset() error {
	s.rows = nil
	return s.rewrite()
}

// between returns rows with from <= block <= to.
func (s *series[T]) between(from, to uint64) []*T {
	if s.order == anyOrder {
		out := make([]*T, 0)
		for _, row := range s.rows {
			if b := s.block(row); b >= from && b <= to {
				out = append(out, row)
			}
		}
		return out
	}
	lo, _ := slices.BinarySearchFunc(s.rows, from, func(row *T, h uint64) int {
		return cmpUint(s.block(row), h)
	})
	out := make([]*T, 0)
	for i := lo; i < len(s.rows); i++ {
		if s.block(s.rows[i]) > to {
			break
		}
		out = append(out, s.rows[i])
	}
	return out
}

func cmpUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
