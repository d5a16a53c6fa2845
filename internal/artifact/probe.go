package artifact

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"

	"jobforge/internal/job"
)

// probe runs the structural check for the artifact's declared kind. The file
// is known to exist and be non-empty at this point.
func probe(path string, spec job.ArtifactSpec) error {
	switch spec.Kind {
	case job.ArtifactTextLog:
		return probeText(path)
	case job.ArtifactBinaryDocument:
		return probeDocument(path)
	case job.ArtifactStructuredData:
		return probeStructured(path, spec.ExpectedRecords)
	default:
		return fmt.Errorf("no structural probe for artifact kind %q", spec.Kind)
	}
}

// probeText requires the file to be readable as text: valid UTF-8 with no
// NUL bytes.
func probeText(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return errors.New("not a text file: contains NUL bytes")
	}
	if !utf8.Valid(data) {
		return errors.New("not a text file: invalid UTF-8")
	}
	return nil
}

// probeDocument requires a recognized file signature, and for PDFs that the
// end-of-file trailer is present (a truncated render lacks it).
func probeDocument(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 262)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	head = head[:n]

	kind, err := filetype.Match(head)
	if err != nil {
		return err
	}
	if kind == filetype.Unknown {
		return errors.New("unrecognized document signature")
	}

	if kind == matchers.TypePdf {
		return checkPDFTrailer(f)
	}
	return nil
}

// checkPDFTrailer looks for %%EOF near the end of the file.
func checkPDFTrailer(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	const window = 1024
	offset := info.Size() - window
	if offset < 0 {
		offset = 0
	}
	tail := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(tail, offset); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if !bytes.Contains(tail, []byte("%%EOF")) {
		return errors.New("PDF trailer missing: file is truncated")
	}
	return nil
}

// probeStructured parses the container and checks the record count is
// internally consistent. JSON-lines and CSV containers are supported; the
// format is sniffed from the first byte with the extension as a tiebreak.
func probeStructured(path string, expectedRecords int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var records int
	switch {
	case looksLikeJSONLines(f, path):
		records, err = countJSONLines(f)
	default:
		records, err = countCSVRecords(f)
	}
	if err != nil {
		return err
	}

	if records == 0 {
		return errors.New("container holds no records")
	}
	if expectedRecords > 0 && records != expectedRecords {
		return fmt.Errorf("expected %d records, container reports %d", expectedRecords, records)
	}
	return nil
}

func looksLikeJSONLines(f *os.File, path string) bool {
	switch filepath.Ext(path) {
	case ".jsonl", ".ndjson":
		return true
	case ".csv":
		return false
	}
	var first [1]byte
	n, _ := f.ReadAt(first[:], 0)
	return n == 1 && (first[0] == '{' || first[0] == '[')
}

// countJSONLines counts newline-delimited JSON records, requiring every
// non-empty line to parse.
func countJSONLines(f *os.File) (int, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	records := 0
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		if !json.Valid(text) {
			return 0, fmt.Errorf("line %d is not valid JSON", line)
		}
		records++
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return records, nil
}

// countCSVRecords counts data rows. The first row is treated as the header,
// and every row must have the header's field count.
func countCSVRecords(f *os.File) (int, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	r := csv.NewReader(f)

	if _, err := r.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, errors.New("CSV container has no header")
		}
		return 0, fmt.Errorf("CSV header: %w", err)
	}

	records := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			return records, nil
		}
		if err != nil {
			return 0, fmt.Errorf("CSV record %d: %w", records+1, err)
		}
		records++
	}
}
