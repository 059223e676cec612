package build

import (
	"fmt"

	"wheelsmith-tools/go/pkg/archive"
	"wheelsmith-tools/go/pkg/cargo"
	"wheelsmith-tools/go/pkg/logbowl"
	"wheelsmith-tools/go/pkg/metadata"
)

// SourceDistribution writes the sdist of the crate at manifestPath into
// outDir. Nothing is compiled; cargo is only asked for the dependency graph
// to find local path dependencies.
func SourceDistribution(log logbowl.Logger, driver *cargo.Driver, manifestPath, outDir string) (string, error) {
	manifest, project, meta, err := metadata.Load(manifestPath)
	if err != nil {
		return "", err
	}
	cargoMeta, err := driver.Metadata(manifestPath)
	if err != nil {
		return "", fmt.Errorf("cargo metadata failed: %w", err)
	}

	var pathDeps map[string]string
	if pkg, ok := cargoMeta.PackageByManifest(manifestPath); ok {
		pathDeps = pkg.PathDependencies()
	} else {
		log.Warn("sdist", "resolve", "warning", "Crate not found in cargo metadata, path dependencies are not bundled", "manifest", manifestPath)
	}

	sdistPath, err := archive.WriteSdist(log, outDir, archive.SdistOptions{
		ManifestPath:     manifestPath,
		Metadata:         meta,
		PathDependencies: pathDeps,
		Include:          sdistIncludes(manifest, project),
		Exclude:          manifest.Package.Exclude,
	})
	if err != nil {
		return "", fmt.Errorf("failed to build source distribution: %w", err)
	}
	return sdistPath, nil
}

// sdistIncludes combines Cargo's include list with [tool.wheelsmith]
// sdist-include. Extra globs alone do not restrict the crate's files.
func sdistIncludes(manifest *metadata.CargoToml, project *metadata.PyProject) []string {
	if len(manifest.Package.Include) == 0 {
		return nil
	}
	return append(append([]string(nil), manifest.Package.Include...), project.Tool().SdistInclude...)
}

// SourceDistribution writes the sdist of the context's crate.
func (c *Context) SourceDistribution(outDir string) (string, error) {
	return SourceDistribution(c.Log, c.Driver, c.ManifestPath, outDir)
}
