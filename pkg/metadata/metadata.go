// Package metadata derives python core metadata (version 2.1) for a crate
// from its Cargo.toml and an optional pyproject.toml, and renders the files
// of a .dist-info directory.
package metadata

import (
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// Metadata21 is python package metadata version 2.1.
type Metadata21 struct {
	Name                   string
	Version                string
	Summary                string
	Description            string
	DescriptionContentType string
	Keywords               []string
	HomePage               string
	Author                 string
	AuthorEmail            string
	Maintainer             string
	MaintainerEmail        string
	License                string
	Classifiers            []string
	RequiresDist           []string
	RequiresPython         string
	RequiresExternal       []string
	ProvidesExtra          []string
	ProjectURLs            map[string]string
	// Scripts are console entry points, name to "module:function".
	Scripts map[string]string
}

// FromCargoToml fills the metadata from the crate manifest. manifestDir is
// used to resolve the readme.
func FromCargoToml(manifest *CargoToml, manifestDir string) (*Metadata21, error) {
	pkg := manifest.Package
	m := &Metadata21{
		Name:        pkg.Name,
		Version:     pkg.Version,
		Summary:     pkg.Description,
		Keywords:    pkg.Keywords,
		HomePage:    pkg.Homepage,
		License:     pkg.License,
		ProjectURLs: map[string]string{},
		Scripts:     map[string]string{},
	}
	if m.Version == "" {
		return nil, fmt.Errorf("crate %s has no version", pkg.Name)
	}

	var names, emails []string
	for _, author := range pkg.Authors {
		name, email := splitAuthor(author)
		if name != "" {
			names = append(names, name)
		}
		if email != "" {
			emails = append(emails, email)
		}
	}
	m.Author = strings.Join(names, ", ")
	m.AuthorEmail = strings.Join(emails, ", ")

	if pkg.Readme != "" {
		data, err := os.ReadFile(filepath.Join(manifestDir, pkg.Readme))
		if err != nil {
			return nil, fmt.Errorf("failed to read readme: %w", err)
		}
		m.Description = string(data)
		m.DescriptionContentType = contentType(pkg.Readme)
	}
	if pkg.Repository != "" {
		m.ProjectURLs["Source Code"] = pkg.Repository
	}
	if pkg.Documentation != "" {
		m.ProjectURLs["Documentation"] = pkg.Documentation
	}

	if extra := pkg.Metadata.Maturin; extra != nil {
		m.Classifiers = extra.Classifier
		m.RequiresDist = extra.RequiresDist
		m.RequiresPython = extra.RequiresPython
		m.RequiresExternal = extra.RequiresExt
		m.ProvidesExtra = extra.ProvidesExtra
		m.Maintainer = extra.Maintainer
		m.MaintainerEmail = extra.MaintainerEmail
		if extra.Summary != "" {
			m.Summary = extra.Summary
		}
		for k, v := range extra.ProjectURL {
			m.ProjectURLs[k] = v
		}
		for k, v := range extra.Scripts {
			m.Scripts[k] = v
		}
	}
	return m, nil
}

// MergePyProject applies the [project] table, which wins over Cargo.toml.
func (m *Metadata21) MergePyProject(project *PyProject) {
	if project == nil || project.Project == nil {
		return
	}
	p := project.Project
	if p.Name != "" {
		m.Name = p.Name
	}
	if p.Version != "" {
		m.Version = p.Version
	}
	if p.Description != "" {
		m.Summary = p.Description
	}
	if p.RequiresPython != "" {
		m.RequiresPython = p.RequiresPython
	}
	if len(p.Dependencies) > 0 {
		m.RequiresDist = append([]string(nil), p.Dependencies...)
	}
	extras := make([]string, 0, len(p.OptionalDependencies))
	for extra := range p.OptionalDependencies {
		extras = append(extras, extra)
	}
	sort.Strings(extras)
	for _, extra := range extras {
		m.ProvidesExtra = append(m.ProvidesExtra, extra)
		for _, dep := range p.OptionalDependencies[extra] {
			m.RequiresDist = append(m.RequiresDist, fmt.Sprintf("%s; extra == %q", dep, extra))
		}
	}
	if len(p.Classifiers) > 0 {
		m.Classifiers = p.Classifiers
	}
	if len(p.Keywords) > 0 {
		m.Keywords = p.Keywords
	}
	if p.License != nil && p.License.Text != "" {
		m.License = p.License.Text
	}
	if len(p.Authors) > 0 {
		m.Author, m.AuthorEmail = joinPeople(p.Authors)
	}
	if len(p.Maintainers) > 0 {
		m.Maintainer, m.MaintainerEmail = joinPeople(p.Maintainers)
	}
	for k, v := range p.URLs {
		m.ProjectURLs[k] = v
	}
	for k, v := range p.Scripts {
		m.Scripts[k] = v
	}
}

// Load reads Cargo.toml and the pyproject.toml beside it.
func Load(manifestPath string) (*CargoToml, *PyProject, *Metadata21, error) {
	manifest, err := ReadCargoToml(manifestPath)
	if err != nil {
		return nil, nil, nil, err
	}
	dir := filepath.Dir(manifestPath)
	m, err := FromCargoToml(manifest, dir)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to parse Cargo.toml into python metadata: %w", err)
	}
	project, err := ReadPyProject(dir)
	if err != nil {
		return nil, nil, nil, err
	}
	m.MergePyProject(project)
	return manifest, project, m, nil
}

var separators = regexp.MustCompile(`[-_.]+`)

// DistName is the name as it appears in file names.
func (m *Metadata21) DistName() string {
	return separators.ReplaceAllString(m.Name, "_")
}

// DistVersion is the version as it appears in file names.
func (m *Metadata21) DistVersion() string {
	return strings.ReplaceAll(m.Version, "-", "_")
}

// DistInfoDir is e.g. "my_project-0.1.0.dist-info".
func (m *Metadata21) DistInfoDir() string {
	return fmt.Sprintf("%s-%s.dist-info", m.DistName(), m.DistVersion())
}

// DataDir is e.g. "my_project-0.1.0.data".
func (m *Metadata21) DataDir() string {
	return fmt.Sprintf("%s-%s.data", m.DistName(), m.DistVersion())
}

// ModuleName is the importable name of the package.
func (m *Metadata21) ModuleName() string {
	return underscored(m.Name)
}

// Fields returns the header fields of the METADATA file in order. Empty
// fields are left out.
func (m *Metadata21) Fields() [][2]string {
	var fields [][2]string
	add := func(key, value string) {
		if strings.TrimSpace(value) != "" {
			fields = append(fields, [2]string{key, value})
		}
	}
	add("Metadata-Version", "2.1")
	add("Name", m.Name)
	add("Version", m.Version)
	for _, c := range m.Classifiers {
		add("Classifier", c)
	}
	for _, r := range m.RequiresDist {
		add("Requires-Dist", r)
	}
	for _, e := range m.ProvidesExtra {
		add("Provides-Extra", e)
	}
	for _, r := range m.RequiresExternal {
		add("Requires-External", r)
	}
	add("Summary", m.Summary)
	add("Keywords", strings.Join(m.Keywords, ","))
	add("Home-Page", m.HomePage)
	add("Author", m.Author)
	add("Author-email", m.AuthorEmail)
	add("Maintainer", m.Maintainer)
	add("Maintainer-email", m.MaintainerEmail)
	add("License", m.License)
	add("Requires-Python", m.RequiresPython)
	add("Description-Content-Type", m.DescriptionContentType)
	names := make([]string, 0, len(m.ProjectURLs))
	for name := range m.ProjectURLs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		add("Project-URL", name+", "+m.ProjectURLs[name])
	}
	return fields
}

// ToFileContents renders the METADATA file. The long description is the
// message body.
func (m *Metadata21) ToFileContents() string {
	var b strings.Builder
	for _, f := range m.Fields() {
		fmt.Fprintf(&b, "%s: %s\n", f[0], f[1])
	}
	if m.Description != "" {
		b.WriteString("\n")
		b.WriteString(m.Description)
		if !strings.HasSuffix(m.Description, "\n") {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// EntryPoints renders entry_points.txt, or "" without scripts.
func (m *Metadata21) EntryPoints() string {
	if len(m.Scripts) == 0 {
		return ""
	}
	names := make([]string, 0, len(m.Scripts))
	for name := range m.Scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("[console_scripts]\n")
	for _, name := range names {
		fmt.Fprintf(&b, "%s=%s\n", name, m.Scripts[name])
	}
	return b.String()
}

// Wheel renders the WHEEL file for the given tags.
func Wheel(generator string, rootIsPurelib bool, tags []string) string {
	var b strings.Builder
	b.WriteString("Wheel-Version: 1.0\n")
	fmt.Fprintf(&b, "Generator: %s\n", generator)
	fmt.Fprintf(&b, "Root-Is-Purelib: %t\n", rootIsPurelib)
	for _, tag := range tags {
		fmt.Fprintf(&b, "Tag: %s\n", tag)
	}
	return b.String()
}

func splitAuthor(author string) (string, string) {
	addr, err := mail.ParseAddress(author)
	if err != nil {
		return strings.TrimSpace(author), ""
	}
	return addr.Name, addr.Address
}

func joinPeople(people []Person) (string, string) {
	var names, emails []string
	for _, p := range people {
		switch {
		case p.Email != "" && p.Name != "":
			emails = append(emails, fmt.Sprintf("%s <%s>", p.Name, p.Email))
		case p.Email != "":
			emails = append(emails, p.Email)
		case p.Name != "":
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, ", "), strings.Join(emails, ", ")
}

func contentType(readme string) string {
	switch strings.ToLower(filepath.Ext(readme)) {
	case ".md", ".markdown":
		return "text/markdown; charset=UTF-8; variant=GFM"
	case ".rst":
		return "text/x-rst; charset=UTF-8"
	}
	return "text/plain; charset=UTF-8"
}

func underscored(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
