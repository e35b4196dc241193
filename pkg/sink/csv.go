package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/osslab-pku/github-scraper-client/pkg/fetch"
	"github.com/osslab-pku/github-scraper-client/pkg/query"
)

// CSVSink writes harvested records to one CSV file per query, named from
// the query's identifying params (owner_name[_type][_id].csv). The column
// set is the union of keys across the first non-empty page of a query:
// records missing a column leave it empty, later pages drop unknown ones.
type CSVSink struct {
	dir    string
	mu     sync.Mutex
	files  map[string]*csvFile
	logger zerolog.Logger
}

type csvFile struct {
	file   *os.File
	writer *csv.Writer
	header []string
}

// NewCSV creates a CSV sink writing into dir.
func NewCSV(dir string) *CSVSink {
	return &CSVSink{
		dir:    dir,
		files:  make(map[string]*csvFile),
		logger: log.With().Str("component", "csv-sink").Logger(),
	}
}

// Callback writes one page of records to the query's CSV file. It matches
// pagination.Callback.
func (s *CSVSink) Callback(ctx context.Context, items []fetch.Record, params query.Params) {
	if len(items) == 0 {
		return
	}

	name := fileName(params)

	s.mu.Lock()
	defer s.mu.Unlock()

	cf, err := s.open(name, items)
	if err != nil {
		s.logger.Error().Err(err).Str("file", name).Msg("Open CSV file failed")
		return
	}

	for _, item := range items {
		row := make([]string, len(cf.header))
		for i, col := range cf.header {
			row[i] = formatField(item[col])
		}
		if err := cf.writer.Write(row); err != nil {
			s.logger.Error().Err(err).Str("file", name).Msg("Write CSV row failed")
			return
		}
	}
	cf.writer.Flush()
	if err := cf.writer.Error(); err != nil {
		s.logger.Error().Err(err).Str("file", name).Msg("Flush CSV failed")
	}
}

// Close flushes and closes every file the sink opened.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for name, cf := range s.files {
		cf.writer.Flush()
		if err := cf.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", name, err)
		}
		delete(s.files, name)
	}
	return firstErr
}

// open returns the writer for name, creating the file on first use with a
// header row built from the union of keys across items. Caller holds s.mu.
func (s *CSVSink) open(name string, items []fetch.Record) (*csvFile, error) {
	if cf, ok := s.files[name]; ok {
		return cf, nil
	}

	file, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var header []string
	for _, item := range items {
		for k := range item {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				header = append(header, k)
			}
		}
	}
	sort.Strings(header)

	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		file.Close()
		return nil, err
	}

	cf := &csvFile{file: file, writer: writer, header: header}
	s.files[name] = cf
	return cf, nil
}

// fileName derives the per-query CSV file name from the params snapshot.
func fileName(params query.Params) string {
	name := params[query.FieldOwner] + "_" + params[query.FieldName]
	if t := params[query.FieldType]; t != "" {
		name += "_" + t
	}
	if id := params[query.FieldID]; id != "" {
		name += "_" + id
	}
	return name + ".csv"
}
