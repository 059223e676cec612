// Package archive writes the files a build produces: wheels (zip), the bare
// .dist-info directory the PEP 517 metadata hook asks for, and source
// distributions (tar.gz). It also reads them back for upload and
// verification.
package archive

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/klauspost/compress/zip"

	"wheelsmith-tools/go/pkg/logbowl"
	"wheelsmith-tools/go/pkg/metadata"
)

// Generator is written into the WHEEL file.
var Generator = "wheelsmith (dev)"

const maxSensibleReadSize = 2 * 1024 * 1024 * 1024 // 2 GB

// ModuleWriter accepts the files of a python package.
type ModuleWriter interface {
	AddBytes(target string, data []byte, executable bool) error
	AddFile(target, source string) error
}

// recordEntry is one line of RECORD.
type recordEntry struct {
	path string
	hash string
	size int
}

func hashEntry(target string, data []byte) recordEntry {
	sum := sha256.Sum256(data)
	return recordEntry{
		path: target,
		hash: "sha256=" + base64.RawURLEncoding.EncodeToString(sum[:]),
		size: len(data),
	}
}

// WheelWriter writes a .whl file. Call Finish to write RECORD and close it.
type WheelWriter struct {
	log        logbowl.Logger
	path       string
	f          *os.File
	zw         *zip.Writer
	record     []recordEntry
	recordPath string
	modified   time.Time
}

// WheelFileName is "<dist>-<version>-<tag>.whl".
func WheelFileName(m *metadata.Metadata21, tag string) string {
	return fmt.Sprintf("%s-%s-%s.whl", m.DistName(), m.DistVersion(), tag)
}

// NewWheelWriter creates the wheel in dir and writes the .dist-info files
// for tags right away.
func NewWheelWriter(log logbowl.Logger, dir string, m *metadata.Metadata21, tags []string) (*WheelWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating wheel directory: %w", err)
	}
	wheelPath := filepath.Join(dir, WheelFileName(m, tags[0]))
	f, err := os.OpenFile(wheelPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating wheel: %w", err)
	}
	w := &WheelWriter{
		log:        log,
		path:       wheelPath,
		f:          f,
		zw:         zip.NewWriter(f),
		recordPath: path.Join(m.DistInfoDir(), "RECORD"),
		modified:   sourceDateEpoch(),
	}
	if err := WriteDistInfo(w, m, tags); err != nil {
		w.zw.Close()
		f.Close()
		os.Remove(wheelPath)
		return nil, err
	}
	return w, nil
}

// Path is the location of the wheel.
func (w *WheelWriter) Path() string {
	return w.path
}

// AddBytes implements ModuleWriter.
func (w *WheelWriter) AddBytes(target string, data []byte, executable bool) error {
	target = filepath.ToSlash(target)
	hdr := &zip.FileHeader{Name: target, Method: zip.Deflate, Modified: w.modified}
	mode := os.FileMode(0644)
	if executable {
		mode = 0755
	}
	hdr.SetMode(mode)
	fw, err := w.zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("adding %s to wheel: %w", target, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("adding %s to wheel: %w", target, err)
	}
	w.record = append(w.record, hashEntry(target, data))
	w.log.Debug("wheel", "write", "success", "Added file", "path", target, "size", len(data))
	return nil
}

// AddFile implements ModuleWriter. The executable bit of source is kept.
func (w *WheelWriter) AddFile(target, source string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return fmt.Errorf("reading %s: %w", source, err)
	}
	return w.AddBytes(target, data, info.Mode()&0111 != 0)
}

// Finish writes RECORD and closes the wheel.
func (w *WheelWriter) Finish() (string, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	for _, e := range w.record {
		cw.Write([]string{e.path, e.hash, strconv.Itoa(e.size)})
	}
	cw.Write([]string{w.recordPath, "", ""})
	cw.Flush()

	fw, err := w.zw.CreateHeader(&zip.FileHeader{Name: w.recordPath, Method: zip.Deflate, Modified: w.modified})
	if err == nil {
		_, err = fw.Write(buf.Bytes())
	}
	if err == nil {
		err = w.zw.Close()
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(w.path)
		return "", fmt.Errorf("finishing wheel %s: %w", w.path, err)
	}
	w.log.Info("wheel", "write", "success", "Built wheel", "path", w.path, "files", len(w.record)+1)
	return w.path, nil
}

// PathWriter writes package files below a directory, the way the PEP 517
// metadata hook expects the .dist-info folder.
type PathWriter struct {
	Base string
}

// AddBytes implements ModuleWriter.
func (w *PathWriter) AddBytes(target string, data []byte, executable bool) error {
	dest := filepath.Join(w.Base, filepath.FromSlash(target))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	mode := os.FileMode(0644)
	if executable {
		mode = 0755
	}
	return os.WriteFile(dest, data, mode)
}

// AddFile implements ModuleWriter.
func (w *PathWriter) AddFile(target, source string) error {
	info, err := os.Stat(source)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(source)
	if err != nil {
		return err
	}
	return w.AddBytes(target, data, info.Mode()&0111 != 0)
}

// WriteDistInfo writes METADATA, WHEEL and entry_points.txt.
func WriteDistInfo(w ModuleWriter, m *metadata.Metadata21, tags []string) error {
	dir := m.DistInfoDir()
	files := map[string]string{
		"METADATA": m.ToFileContents(),
		"WHEEL":    metadata.Wheel(Generator, false, tags),
	}
	if entryPoints := m.EntryPoints(); entryPoints != "" {
		files["entry_points.txt"] = entryPoints
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := w.AddBytes(path.Join(dir, name), []byte(files[name]), false); err != nil {
			return err
		}
	}
	return nil
}

// sourceDateEpoch honors SOURCE_DATE_EPOCH for reproducible archives.
func sourceDateEpoch() time.Time {
	if v := os.Getenv("SOURCE_DATE_EPOCH"); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(secs, 0).UTC()
		}
	}
	return time.Now()
}

// readLimited refuses entries larger than limit.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("entry exceeds limit of %d bytes", limit)
	}
	return data, nil
}
