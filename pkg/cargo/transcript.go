package cargo

import (
	"bufio"
	"fmt"
	"os"

	"github.com/valyala/gozstd"
)

// transcript records cargo's json stream, zstd compressed, so a failed or
// surprising build can be inspected afterwards.
type transcript struct {
	f  *os.File
	zw *gozstd.Writer
}

func createTranscript(path string) (*transcript, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("creating message transcript: %w", err)
	}
	return &transcript{f: f, zw: gozstd.NewWriter(f)}, nil
}

func (t *transcript) writeLine(line []byte) error {
	if _, err := t.zw.Write(line); err != nil {
		return err
	}
	_, err := t.zw.Write([]byte{'\n'})
	return err
}

func (t *transcript) Close() error {
	defer t.zw.Release()
	if err := t.zw.Close(); err != nil {
		t.f.Close()
		return err
	}
	return t.f.Close()
}

// ReadTranscript returns the recorded lines of a transcript file.
func ReadTranscript(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr := gozstd.NewReader(f)
	defer zr.Release()
	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading transcript %s: %w", path, err)
	}
	return lines, nil
}
