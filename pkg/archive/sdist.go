package archive

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"

	"wheelsmith-tools/go/pkg/logbowl"
	"wheelsmith-tools/go/pkg/metadata"
)

// LocalDependencies is the folder path dependencies are copied to.
const LocalDependencies = "local_dependencies"

// DefaultExcludes are never part of a source distribution.
var DefaultExcludes = []string{
	"target",
	".git",
	".hg",
	".venv",
	".tox",
	"**/__pycache__",
	"**/*.pyc",
	"**/*.so",
	"**/*.whl",
}

// SdistOptions selects what goes into a source distribution.
type SdistOptions struct {
	ManifestPath string
	Metadata     *metadata.Metadata21
	// PathDependencies maps crate names to the directories of local path
	// dependencies, which are bundled and re-pointed in Cargo.toml.
	PathDependencies map[string]string
	// Include, when not empty, limits the crate's files to these globs.
	// Cargo.toml and pyproject.toml are always included.
	Include []string
	Exclude []string
}

// SdistFileName is "<dist>-<version>.tar.gz".
func SdistFileName(m *metadata.Metadata21) string {
	return fmt.Sprintf("%s-%s.tar.gz", m.DistName(), m.DistVersion())
}

type sdistWriter struct {
	log      logbowl.Logger
	tw       *tar.Writer
	prefix   string
	modified time.Time
	skip     string
	count    int
}

// WriteSdist writes the source distribution into dir and returns its path.
func WriteSdist(log logbowl.Logger, dir string, opts SdistOptions) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating sdist directory: %w", err)
	}
	outPath, err := filepath.Abs(filepath.Join(dir, SdistFileName(opts.Metadata)))
	if err != nil {
		return "", err
	}
	manifestDir, err := filepath.Abs(filepath.Dir(opts.ManifestPath))
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	w := &sdistWriter{
		log:      log,
		tw:       tar.NewWriter(zw),
		prefix:   fmt.Sprintf("%s-%s", opts.Metadata.DistName(), opts.Metadata.DistVersion()),
		modified: sourceDateEpoch(),
		skip:     outPath,
	}

	excludes := append(append([]string(nil), DefaultExcludes...), opts.Exclude...)
	manifestName := filepath.Base(opts.ManifestPath)
	if err := w.addTree(manifestDir, "", opts.Include, excludes, manifestName); err != nil {
		return "", err
	}

	manifestData, err := os.ReadFile(opts.ManifestPath)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", opts.ManifestPath, err)
	}
	if len(opts.PathDependencies) > 0 {
		manifestData, err = RewriteCargoToml(manifestData, opts.PathDependencies)
		if err != nil {
			return "", err
		}
	}
	if err := w.addBytes("Cargo.toml", manifestData, 0644); err != nil {
		return "", err
	}

	names := make([]string, 0, len(opts.PathDependencies))
	for name := range opts.PathDependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		depDir := opts.PathDependencies[name]
		log.Debug("sdist", "add", "progress", "Adding path dependency", "crate", name, "path", depDir)
		if err := w.addTree(depDir, path.Join(LocalDependencies, name), nil, DefaultExcludes, ""); err != nil {
			return "", fmt.Errorf("adding path dependency %s: %w", name, err)
		}
	}

	if err := w.addBytes("PKG-INFO", []byte(opts.Metadata.ToFileContents()), 0644); err != nil {
		return "", err
	}
	if err := w.tw.Close(); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	if err := os.WriteFile(outPath, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("writing sdist: %w", err)
	}
	log.Info("sdist", "write", "success", "Built source distribution", "path", outPath, "files", w.count)
	return outPath, nil
}

// addTree archives the files under root as prefix/target/<rel>. skipName
// is a top-level file written separately.
func (w *sdistWriter) addTree(root, target string, include, exclude []string, skipName string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		for _, pattern := range exclude {
			match, err := doublestar.Match(pattern, relPath)
			if err != nil {
				return err
			}
			if match {
				w.log.Debug("sdist", "exclude", "skip", "Excluding path based on pattern", "path", relPath, "pattern", pattern)
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() {
			return nil
		}
		if relPath == skipName || p == w.skip {
			return nil
		}
		if len(include) > 0 && relPath != "pyproject.toml" && !matchesAny(include, relPath) {
			return nil
		}

		// symlinks are followed
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		return w.addBytes(path.Join(target, relPath), data, int64(info.Mode().Perm()))
	})
}

func (w *sdistWriter) addBytes(name string, data []byte, mode int64) error {
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     path.Join(w.prefix, name),
		Mode:     mode,
		Size:     int64(len(data)),
		ModTime:  w.modified,
		Format:   tar.FormatPAX,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return err
	}
	if _, err := w.tw.Write(data); err != nil {
		return err
	}
	w.count++
	return nil
}

func matchesAny(patterns []string, relPath string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
	}
	return false
}

// RewriteCargoToml points the path dependencies of a manifest at their
// bundled copies. Comments and formatting of the manifest are not kept.
func RewriteCargoToml(data []byte, pathDeps map[string]string) ([]byte, error) {
	var doc map[string]any
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("parsing Cargo.toml: %w", err)
	}
	rewritten := 0
	for _, section := range []string{"dependencies", "build-dependencies", "dev-dependencies"} {
		deps, ok := doc[section].(map[string]any)
		if !ok {
			continue
		}
		for name, dep := range deps {
			table, ok := dep.(map[string]any)
			if !ok {
				continue
			}
			if _, isPath := table["path"]; !isPath {
				continue
			}
			if _, bundled := pathDeps[name]; !bundled {
				continue
			}
			table["path"] = path.Join(LocalDependencies, name)
			rewritten++
		}
	}
	if rewritten == 0 {
		return data, nil
	}
	var out bytes.Buffer
	if err := toml.NewEncoder(&out).Encode(doc); err != nil {
		return nil, fmt.Errorf("writing Cargo.toml: %w", err)
	}
	return out.Bytes(), nil
}

// SdistEntries lists the files in a source distribution.
func SdistEntries(sdistPath string) ([]string, error) {
	var names []string
	err := walkSdist(sdistPath, func(hdr *tar.Header, _ io.Reader) (bool, error) {
		names = append(names, hdr.Name)
		return true, nil
	})
	return names, err
}

// walkSdist calls fn for every entry until it returns false.
func walkSdist(sdistPath string, fn func(hdr *tar.Header, r io.Reader) (bool, error)) error {
	f, err := os.Open(sdistPath)
	if err != nil {
		return err
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s is not a gzip archive: %w", sdistPath, err)
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		more, err := fn(hdr, tr)
		if err != nil || !more {
			return err
		}
	}
}
