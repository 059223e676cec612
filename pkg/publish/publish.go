// Package publish resolves index credentials and drives the upload of a
// set of distributions.
package publish

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-ini/ini"
	"github.com/spf13/pflag"

	"wheelsmith-tools/go/pkg/keyring"
	"wheelsmith-tools/go/pkg/logbowl"
	"wheelsmith-tools/go/pkg/upload"
)

// Keyring service name under which passwords are stored.
const KeyringService = "wheelsmith"

const (
	EnvToken    = "WHEELSMITH_PYPI_TOKEN"
	EnvPassword = "WHEELSMITH_PASSWORD"
)

// Options is an index account as given on the command line, possibly
// incomplete.
type Options struct {
	// Registry is an upload URL or the name of a .pypirc section.
	Registry     string
	Username     string
	Password     string
	SkipExisting bool
}

// AddFlags registers the options on a command's flag set.
func (o *Options) AddFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&o.Registry, "repository-url", "r", upload.PyPIURL, "The url of registry where the wheels are uploaded to, or the name of a section in ~/.pypirc")
	flags.StringVarP(&o.Username, "username", "u", "", "Username for pypi or your custom registry")
	flags.StringVarP(&o.Password, "password", "p", "", "Password for pypi or your custom registry. Note that you can also pass the password through "+EnvPassword)
	flags.BoolVar(&o.SkipExisting, "skip-existing", false, "Continue uploading files if one already exists. (Only valid when uploading to PyPI. Other implementations may not support this.)")
}

// Uploader sends one distribution file.
type Uploader interface {
	Upload(registry upload.Registry, distPath string) error
}

// Orchestrator holds everything the publish flow touches outside the
// process. Unset fields fall back to the real environment.
type Orchestrator struct {
	Log        logbowl.Logger
	LookupEnv  func(string) (string, bool)
	Prompter   Prompter
	Keyring    keyring.Store
	PypircPath string
	Uploader   Uploader
}

func (o *Orchestrator) lookupEnv(key string) (string, bool) {
	if o.LookupEnv != nil {
		return o.LookupEnv(key)
	}
	return os.LookupEnv(key)
}

func (o *Orchestrator) prompter() Prompter {
	if o.Prompter == nil {
		o.Prompter = NewTerminalPrompter()
	}
	return o.Prompter
}

func (o *Orchestrator) keyring() keyring.Store {
	if o.Keyring == nil {
		o.Keyring = keyring.Default()
	}
	return o.Keyring
}

func (o *Orchestrator) uploader() Uploader {
	if o.Uploader == nil {
		o.Uploader = &upload.Client{UserAgent: "wheelsmith"}
	}
	return o.Uploader
}

// loadPypirc reads ~/.pypirc. A missing or broken file is the same as an
// empty one.
func (o *Orchestrator) loadPypirc() *ini.File {
	path := o.PypircPath
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ini.Empty()
		}
		path = filepath.Join(home, ".pypirc")
	}
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowPythonMultilineValues: true}, path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			o.Log.Debug("pypirc", "read", "skip", "Ignoring unreadable .pypirc", "path", path, "error", err)
		}
		return ini.Empty()
	}
	return cfg
}

func pypircValue(cfg *ini.File, section, key string) (string, bool) {
	s, err := cfg.GetSection(section)
	if err != nil || !s.HasKey(key) {
		return "", false
	}
	return s.Key(key).String(), true
}

// CompleteRegistry resolves the URL and asks for whatever part of the
// account is still missing.
func (o *Orchestrator) CompleteRegistry(opts Options) (upload.Registry, error) {
	pypirc := o.loadPypirc()

	registryURL := opts.Registry
	if registryURL == "" {
		registryURL = upload.PyPIURL
	}
	var registryName string
	switch {
	case !strings.HasPrefix(registryURL, "http://") && !strings.HasPrefix(registryURL, "https://"):
		url, ok := pypircValue(pypirc, opts.Registry, "repository")
		if !ok {
			return upload.Registry{}, fmt.Errorf("failed to get registry %s in .pypirc. "+
				"Note: Your index didn't start with http:// or https://, which is required for non-pypirc indices", opts.Registry)
		}
		registryName, registryURL = opts.Registry, url
	case registryURL == upload.PyPIURL:
		registryName = "pypi"
	}

	username, password, err := o.resolveCredentials(opts, pypirc, registryName)
	if err != nil {
		return upload.Registry{}, err
	}
	return upload.Registry{URL: registryURL, Username: username, Password: password}, nil
}

func (o *Orchestrator) resolveCredentials(opts Options, pypirc *ini.File, registryName string) (string, string, error) {
	if token, ok := o.lookupEnv(EnvToken); ok {
		o.Log.Info("publish", "resolve", "success", "Using API token from the environment", "env", EnvToken)
		return "__token__", token, nil
	}

	if registryName != "" {
		username, hasUser := pypircValue(pypirc, registryName, "username")
		password, hasPassword := pypircValue(pypirc, registryName, "password")
		if hasUser && hasPassword {
			o.Log.Info("pypirc", "resolve", "success", "Using credential in pypirc for upload", "section", registryName)
			return username, password, nil
		}
	}

	username := opts.Username
	if username == "" {
		var err error
		username, err = o.prompter().Username()
		if err != nil {
			return "", "", fmt.Errorf("reading username: %w", err)
		}
	}
	password, err := o.password(opts, username)
	if err != nil {
		return "", "", err
	}
	return username, password, nil
}

// password precedence: flag, environment, keyring, prompt.
func (o *Orchestrator) password(opts Options, username string) (string, error) {
	if opts.Password != "" {
		return opts.Password, nil
	}
	if password, ok := o.lookupEnv(EnvPassword); ok {
		return password, nil
	}
	password, err := o.keyring().Get(KeyringService, username)
	if err == nil {
		o.Log.Debug("keyring", "read", "success", "Using password from keyring", "username", username)
		return password, nil
	}
	if !errors.Is(err, keyring.ErrNotFound) && !errors.Is(err, keyring.ErrNoStorageAccess) {
		o.Log.Debug("keyring", "read", "warning", "Keyring lookup failed", "error", err)
	}
	password, err = o.prompter().Password()
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return password, nil
}

// UploadUI uploads items one after another. An authentication failure
// removes the stored password and aborts; after a complete run the password
// is stored for next time.
func (o *Orchestrator) UploadUI(items []string, opts Options) error {
	registry, err := o.CompleteRegistry(opts)
	if err != nil {
		return err
	}

	o.Log.Info("upload", "upload", "progress", "Uploading packages", "count", len(items), "registry", registry.URL)
	for _, item := range items {
		err := o.uploader().Upload(registry, item)
		if err == nil {
			o.Log.Info("upload", "upload", "success", "Uploaded", "file", filepath.Base(item))
			continue
		}

		name := filepath.Base(item)
		if errors.Is(err, upload.ErrAuthentication) {
			o.Log.Error("upload", "upload", "failure", "Username and/or password are wrong")
			o.forgetPassword(registry.Username)
			return fmt.Errorf("uploading %s to %s as %s: %w", name, registry.URL, registry.Username, err)
		}
		if errors.Is(err, upload.ErrFileExists) && opts.SkipExisting {
			o.Log.Warn("upload", "upload", "skip", "Skipping file because it appears to already exist", "file", name)
			continue
		}
		return fmt.Errorf("failed to upload %s (%s): %w", name, fileSize(item), err)
	}
	o.Log.Info("upload", "finish", "success", "Packages uploaded successfully")

	if err := o.keyring().Set(KeyringService, registry.Username, registry.Password); err != nil {
		o.Log.Warn("keyring", "store", "warning", "Failed to store the password in the keyring", "error", err)
	}
	return nil
}

func (o *Orchestrator) forgetPassword(username string) {
	err := o.keyring().Delete(KeyringService, username)
	switch {
	case err == nil:
		o.Log.Info("keyring", "store", "success", "Removed wrong password from keyring", "username", username)
	case errors.Is(err, keyring.ErrNotFound), errors.Is(err, keyring.ErrNoStorageAccess):
	default:
		o.Log.Warn("keyring", "store", "warning", "Failed to remove password from keyring", "error", err)
	}
}

func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Sprintf("failed to get the file size of %s: %v", path, err)
	}
	return humanize.Bytes(uint64(info.Size()))
}
