package archive

import (
	"archive/tar"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"net/textproto"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

// DistMetadata is a parsed METADATA or PKG-INFO file.
type DistMetadata struct {
	Header mail.Header
	// Description is the message body, the long description.
	Description string
}

// Get returns the first value of a field.
func (m *DistMetadata) Get(key string) string {
	return m.Header.Get(key)
}

// Values returns every value of a multi-use field such as Classifier.
func (m *DistMetadata) Values(key string) []string {
	return m.Header[textproto.CanonicalMIMEHeaderKey(key)]
}

// ParseDistMetadata parses core metadata in its email header format.
func ParseDistMetadata(data []byte) (*DistMetadata, error) {
	if !bytes.Contains(data, []byte("\n\n")) {
		// headers only, terminate them
		data = append(append([]byte(nil), data...), '\n')
	}
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}
	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, err
	}
	m := &DistMetadata{Header: msg.Header, Description: string(body)}
	if m.Get("Name") == "" || m.Get("Version") == "" {
		return nil, errors.New("metadata lacks Name or Version")
	}
	return m, nil
}

// ReadMetadata reads the metadata of a wheel (.whl) or source distribution
// (.tar.gz).
func ReadMetadata(distPath string) (*DistMetadata, error) {
	switch {
	case strings.HasSuffix(distPath, ".whl"):
		return readWheelMetadata(distPath)
	case strings.HasSuffix(distPath, ".tar.gz"):
		return readSdistMetadata(distPath)
	}
	return nil, fmt.Errorf("%s is neither a wheel nor a source distribution", distPath)
}

func readWheelMetadata(wheelPath string) (*DistMetadata, error) {
	zr, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("opening wheel %s: %w", wheelPath, err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		dir, name := path.Split(f.Name)
		if name != "METADATA" || strings.Count(f.Name, "/") != 1 || !strings.HasSuffix(dir, ".dist-info/") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		data, err := readLimited(rc, maxSensibleReadSize)
		rc.Close()
		if err != nil {
			return nil, err
		}
		return ParseDistMetadata(data)
	}
	return nil, fmt.Errorf("wheel %s has no .dist-info/METADATA", wheelPath)
}

func readSdistMetadata(sdistPath string) (*DistMetadata, error) {
	var meta *DistMetadata
	err := walkSdist(sdistPath, func(hdr *tar.Header, r io.Reader) (bool, error) {
		if strings.Count(hdr.Name, "/") != 1 || path.Base(hdr.Name) != "PKG-INFO" {
			return true, nil
		}
		data, err := readLimited(r, maxSensibleReadSize)
		if err != nil {
			return false, err
		}
		meta, err = ParseDistMetadata(data)
		return false, err
	})
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("source distribution %s has no PKG-INFO", sdistPath)
	}
	return meta, nil
}

// VerifyReport is the outcome of checking a wheel against its RECORD.
type VerifyReport struct {
	Checked  int
	Problems []string
}

// OK reports whether every file matched.
func (r *VerifyReport) OK() bool {
	return len(r.Problems) == 0
}

// VerifyWheel re-hashes every file of a wheel and compares it with RECORD.
// Files missing from RECORD and RECORD lines without a file are problems
// too.
func VerifyWheel(wheelPath string) (*VerifyReport, error) {
	zr, err := zip.OpenReader(wheelPath)
	if err != nil {
		return nil, fmt.Errorf("opening wheel %s: %w", wheelPath, err)
	}
	defer zr.Close()

	var recordFile *zip.File
	for _, f := range zr.File {
		if strings.Count(f.Name, "/") == 1 && strings.HasSuffix(f.Name, ".dist-info/RECORD") {
			recordFile = f
			break
		}
	}
	if recordFile == nil {
		return nil, fmt.Errorf("wheel %s has no RECORD", wheelPath)
	}
	rc, err := recordFile.Open()
	if err != nil {
		return nil, err
	}
	rows, err := csv.NewReader(rc).ReadAll()
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("invalid RECORD: %w", err)
	}

	expected := map[string]recordEntry{}
	for _, row := range rows {
		if len(row) != 3 {
			return nil, fmt.Errorf("invalid RECORD line %q", strings.Join(row, ","))
		}
		expected[row[0]] = recordEntry{path: row[0], hash: row[1]}
	}

	report := &VerifyReport{}
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") || f == recordFile {
			continue
		}
		want, ok := expected[f.Name]
		if !ok {
			report.Problems = append(report.Problems, fmt.Sprintf("%s is not listed in RECORD", f.Name))
			continue
		}
		delete(expected, f.Name)
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		data, err := readLimited(rc, maxSensibleReadSize)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name, err)
		}
		report.Checked++
		if got := hashEntry(f.Name, data).hash; got != want.hash {
			report.Problems = append(report.Problems, fmt.Sprintf("%s: hash mismatch (expected %s, actual %s)", f.Name, want.hash, got))
		}
	}
	delete(expected, recordFile.Name)
	missing := make([]string, 0, len(expected))
	for name := range expected {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	for _, name := range missing {
		report.Problems = append(report.Problems, fmt.Sprintf("%s is listed in RECORD but missing", name))
	}
	return report, nil
}
