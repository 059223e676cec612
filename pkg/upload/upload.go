// Package upload talks to the legacy package index upload API, the one
// twine uses: one multipart POST per distribution file.
package upload

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"

	"wheelsmith-tools/go/pkg/archive"
)

// PyPIURL is the upload endpoint of the public index.
const PyPIURL = "https://upload.pypi.org/legacy/"

var (
	// ErrAuthentication means the index rejected the credentials.
	ErrAuthentication = errors.New("username and/or password are wrong")
	// ErrFileExists means the index already has a file with this name.
	ErrFileExists = errors.New("file already exists")
)

// StatusError is any other non-success response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("upload failed with status %d", e.StatusCode)
	}
	return fmt.Sprintf("upload failed with status %d: %s", e.StatusCode, body)
}

// Registry is a fully resolved index account.
type Registry struct {
	URL      string
	Username string
	Password string
}

// Client uploads files. The zero value uses http.DefaultClient.
type Client struct {
	HTTP      *http.Client
	UserAgent string
}

// Upload sends a single wheel or sdist to the registry.
func (c *Client) Upload(registry Registry, distPath string) error {
	body, contentType, err := Form(distPath)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, registry.URL, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(registry.Username, registry.Password)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "*/*")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return classify(resp.StatusCode, string(respBody))
}

func classify(status int, body string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthentication
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrFileExists, strings.TrimSpace(body))
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(body), "already exists"):
		return fmt.Errorf("%w: %s", ErrFileExists, strings.TrimSpace(body))
	}
	return &StatusError{StatusCode: status, Body: body}
}

// form field names that differ from the lowercased metadata key
var pluralFields = map[string]string{
	"classifier":     "classifiers",
	"project_url":    "project_urls",
	"provides_extra": "provides_extras",
}

// Form renders the multipart body for distPath and returns it with its
// content type.
func Form(distPath string) (*bytes.Buffer, string, error) {
	meta, err := archive.ReadMetadata(distPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading metadata of %s: %w", filepath.Base(distPath), err)
	}
	content, err := os.ReadFile(distPath)
	if err != nil {
		return nil, "", err
	}

	filetype, pyversion := "sdist", "source"
	if strings.HasSuffix(distPath, ".whl") {
		filetype = "bdist_wheel"
		pyversion, err = wheelPythonTag(filepath.Base(distPath))
		if err != nil {
			return nil, "", err
		}
	}

	md5sum := md5.Sum(content)
	sha := sha256.Sum256(content)
	blake := blake2b.Sum256(content)

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	fields := [][2]string{
		{":action", "file_upload"},
		{"protocol_version", "1"},
		{"filetype", filetype},
		{"pyversion", pyversion},
		{"md5_digest", hex.EncodeToString(md5sum[:])},
		{"sha256_digest", hex.EncodeToString(sha[:])},
		{"blake2_256_digest", hex.EncodeToString(blake[:])},
	}
	fields = append(fields, metadataFields(meta)...)
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="content"; filename="%s"`, filepath.Base(distPath)))
	header.Set("Content-Type", "application/octet-stream")
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(content); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}

// metadataFields turns every metadata header into form fields, in a
// stable order, with the long description last.
func metadataFields(meta *archive.DistMetadata) [][2]string {
	keys := make([]string, 0, len(meta.Header))
	for key := range meta.Header {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var fields [][2]string
	hasDescription := false
	for _, key := range keys {
		name := strings.ReplaceAll(strings.ToLower(key), "-", "_")
		if plural, ok := pluralFields[name]; ok {
			name = plural
		}
		if name == "description" {
			hasDescription = true
		}
		for _, value := range meta.Header[key] {
			fields = append(fields, [2]string{name, value})
		}
	}
	if !hasDescription && strings.TrimSpace(meta.Description) != "" {
		fields = append(fields, [2]string{"description", meta.Description})
	}
	return fields
}

// wheelPythonTag extracts the python tag from a wheel file name,
// {name}-{version}(-{build})?-{python}-{abi}-{platform}.whl.
func wheelPythonTag(fileName string) (string, error) {
	parts := strings.Split(strings.TrimSuffix(fileName, ".whl"), "-")
	if len(parts) < 5 {
		return "", fmt.Errorf("invalid wheel file name %q", fileName)
	}
	return parts[len(parts)-3], nil
}
