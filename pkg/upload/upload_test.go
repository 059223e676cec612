package upload

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheelsmith-tools/go/pkg/archive"
	"wheelsmith-tools/go/pkg/logbowl"
	"wheelsmith-tools/go/pkg/metadata"
)

func buildWheel(t *testing.T) string {
	t.Helper()
	m := &metadata.Metadata21{
		Name:        "hello-world",
		Version:     "0.1.0",
		Summary:     "A test crate",
		Description: "Long text\n",
		Classifiers: []string{"Programming Language :: Rust", "Programming Language :: Python"},
		ProjectURLs: map[string]string{"Source": "https://example.com/src"},
	}
	w, err := archive.NewWheelWriter(logbowl.Discard(), t.TempDir(), m, []string{"cp310-abi3-manylinux_2_17_x86_64"})
	require.NoError(t, err)
	require.NoError(t, w.AddBytes("hello_world/__init__.py", []byte("print('hi')\n"), false))
	path, err := w.Finish()
	require.NoError(t, err)
	return path
}

func TestUploadSendsForm(t *testing.T) {
	wheelPath := buildWheel(t)
	content, err := os.ReadFile(wheelPath)
	require.NoError(t, err)
	sum := sha256.Sum256(content)

	var form map[string][]string
	var uploaded []byte
	var user, pass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		require.NoError(t, r.ParseMultipartForm(32<<20))
		form = r.MultipartForm.Value
		file, header, err := r.FormFile("content")
		require.NoError(t, err)
		assert.Equal(t, "hello_world-0.1.0-cp310-abi3-manylinux_2_17_x86_64.whl", header.Filename)
		uploaded, _ = io.ReadAll(file)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &Client{UserAgent: "wheelsmith/test"}
	err = client.Upload(Registry{URL: server.URL, Username: "__token__", Password: "pypi-abc"}, wheelPath)
	require.NoError(t, err)

	assert.Equal(t, "__token__", user)
	assert.Equal(t, "pypi-abc", pass)
	assert.Equal(t, content, uploaded)
	assert.Equal(t, []string{"file_upload"}, form[":action"])
	assert.Equal(t, []string{"1"}, form["protocol_version"])
	assert.Equal(t, []string{"bdist_wheel"}, form["filetype"])
	assert.Equal(t, []string{"cp310"}, form["pyversion"])
	assert.Equal(t, []string{"hello-world"}, form["name"])
	assert.Equal(t, []string{"0.1.0"}, form["version"])
	assert.Equal(t, []string{hex.EncodeToString(sum[:])}, form["sha256_digest"])
	assert.Len(t, form["md5_digest"][0], 32)
	assert.Len(t, form["blake2_256_digest"][0], 64)
	assert.Equal(t, []string{"Programming Language :: Rust", "Programming Language :: Python"}, form["classifiers"])
	assert.Equal(t, []string{"Source, https://example.com/src"}, form["project_urls"])
	assert.Equal(t, []string{"Long text\n"}, form["description"])
}

func TestUploadErrors(t *testing.T) {
	wheelPath := buildWheel(t)
	for _, tc := range []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{"unauthorized", http.StatusUnauthorized, "", func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrAuthentication) }},
		{"forbidden", http.StatusForbidden, "", func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrAuthentication) }},
		{"conflict", http.StatusConflict, "", func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrFileExists) }},
		{"bad request exists", http.StatusBadRequest, "400 File already exists.", func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrFileExists) }},
		{"bad request other", http.StatusBadRequest, "400 Invalid classifier", func(t *testing.T, err error) {
			var status *StatusError
			require.ErrorAs(t, err, &status)
			assert.Equal(t, http.StatusBadRequest, status.StatusCode)
			assert.Contains(t, err.Error(), "Invalid classifier")
		}},
		{"server error", http.StatusInternalServerError, "", func(t *testing.T, err error) {
			var status *StatusError
			require.ErrorAs(t, err, &status)
			assert.Equal(t, "upload failed with status 500", err.Error())
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer server.Close()
			err := (&Client{}).Upload(Registry{URL: server.URL}, wheelPath)
			require.Error(t, err)
			tc.check(t, err)
		})
	}
}

func TestWheelPythonTag(t *testing.T) {
	tag, err := wheelPythonTag("foo-1.0-cp39-cp39-linux_x86_64.whl")
	require.NoError(t, err)
	assert.Equal(t, "cp39", tag)
	tag, err = wheelPythonTag("foo-1.0-1-py3-none-any.whl")
	require.NoError(t, err)
	assert.Equal(t, "py3", tag)
	_, err = wheelPythonTag("foo.whl")
	assert.Error(t, err)
}
