package main

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// RowPolicy decides what happens to a roster row with a missing name or email.
type RowPolicy string

const (
	RowPolicySkip  RowPolicy = "skip"
	RowPolicyAbort RowPolicy = "abort"
)

func ParseRowPolicy(s string) (RowPolicy, error) {
	switch p := RowPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case RowPolicySkip, RowPolicyAbort:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported row policy: %s", s)
	}
}

// Roster is the ordered result of reading a recipient list.
type Roster struct {
	Recipients []Recipient
	Skipped    []*RowError
}

// LoadRoster reads the CSV file at path. Any error that is not a skipped row is
// returned as a *ConfigError, or as a *RowError under RowPolicyAbort.
func LoadRoster(path string, policy RowPolicy, logger *zap.Logger) (*Roster, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	defer f.Close()

	roster, err := ReadRoster(f, policy, logger)
	if err != nil {
		var rowErr *RowError
		if errors.As(err, &rowErr) {
			return nil, err
		}
		return nil, &ConfigError{Path: path, Err: err}
	}
	return roster, nil
}

// ReadRoster parses a name,email CSV. The header row is required; its columns
// may appear in any order and extra columns are ignored. Blank lines are
// dropped without a warning.
func ReadRoster(r io.Reader, policy RowPolicy, logger *zap.Logger) (*Roster, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && string(bom) == "\xef\xbb\xbf" {
		_, _ = br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrMissingHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	nameCol, emailCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "name":
			nameCol = i
		case "email":
			emailCol = i
		}
	}
	if nameCol < 0 || emailCol < 0 {
		return nil, ErrMissingHeader
	}
	width := max(nameCol, emailCol) + 1

	roster := &Roster{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		var rowErr *RowError
		var parseErr *csv.ParseError
		switch {
		case errors.As(err, &parseErr):
			rowErr = &RowError{Row: parseErr.StartLine, Record: record, Err: err}
		case err != nil:
			return nil, fmt.Errorf("read roster: %w", err)
		default:
			line, _ := reader.FieldPos(0)
			if isBlank(record) {
				continue
			}
			if len(record) < width {
				rowErr = &RowError{Row: line, Record: record, Err: ErrShortRow}
				break
			}
			name := strings.TrimSpace(record[nameCol])
			email := strings.TrimSpace(record[emailCol])
			if name == "" || email == "" {
				rowErr = &RowError{Row: line, Record: record, Err: ErrEmptyField}
				break
			}
			roster.Recipients = append(roster.Recipients, Recipient{Row: line, Name: name, Email: email})
			continue
		}

		if policy == RowPolicyAbort {
			return nil, rowErr
		}
		logger.Warn("skipping roster row", zap.Int("row", rowErr.Row), zap.Error(rowErr.Err))
		roster.Skipped = append(roster.Skipped, rowErr)
	}

	return roster, nil
}

func isBlank(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
