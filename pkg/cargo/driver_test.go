package cargo

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"wheelsmith-tools/go/pkg/interpreter"
	"wheelsmith-tools/go/pkg/logbowl"
	"wheelsmith-tools/go/pkg/sysconfig"
	"wheelsmith-tools/go/pkg/target"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCargo answers the build plan query with three invocations and replays
// $FAKE_MESSAGES for the real build, recording its arguments and the
// interpreter config file it was handed.
const fakeCargo = `#!/bin/sh
for arg in "$@"; do
  if [ "$arg" = "--build-plan" ]; then
    if [ -n "$FAKE_PLAN_EXIT" ]; then
      echo "error: failed to parse manifest" >&2
      exit "$FAKE_PLAN_EXIT"
    fi
    echo '{"invocations":[{},{},{}],"inputs":["Cargo.toml"]}'
    exit 0
  fi
done
echo "$@" > "$FAKE_ARGS"
env | grep -E '^(PYO3_PYTHON|PYTHON_SYS_EXECUTABLE)=' > "$FAKE_ENV"
if [ -n "$PYO3_CONFIG_FILE" ]; then
  cp "$PYO3_CONFIG_FILE" "$FAKE_CONFIG"
fi
cat "$FAKE_MESSAGES"
exit "${FAKE_EXIT:-0}"
`

type countingProgress struct {
	total    int
	inc      int
	finished bool
}

func (p *countingProgress) Inc()    { p.inc++ }
func (p *countingProgress) Finish() { p.finished = true }

type fakeSetup struct {
	driver   *Driver
	dir      string
	progress *countingProgress
}

func newFakeSetup(t *testing.T, messages []string, extraEnv ...string) *fakeSetup {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake cargo is a shell script")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "cargo")
	require.NoError(t, os.WriteFile(script, []byte(fakeCargo), 0755))
	messagesPath := filepath.Join(dir, "messages.json")
	require.NoError(t, os.WriteFile(messagesPath, []byte(strings.Join(messages, "\n")+"\n"), 0644))

	env := append(os.Environ(),
		"FAKE_ARGS="+filepath.Join(dir, "args"),
		"FAKE_ENV="+filepath.Join(dir, "env"),
		"FAKE_CONFIG="+filepath.Join(dir, "config"),
		"FAKE_MESSAGES="+messagesPath,
	)
	env = append(env, extraEnv...)

	s := &fakeSetup{dir: dir}
	s.driver = &Driver{
		Log:    logbowl.Discard(),
		Cargo:  script,
		Stderr: &strings.Builder{},
		Env:    env,
		NewProgress: func(total int) Progress {
			s.progress = &countingProgress{total: total}
			return s.progress
		},
	}
	return s
}

func (s *fakeSetup) read(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}

func hostPython() *interpreter.PythonInterpreter {
	return &interpreter.PythonInterpreter{
		Major:      3,
		Minor:      10,
		Kind:       sysconfig.CPython,
		ExtSuffix:  ".cpython-310-x86_64-linux-gnu.so",
		ABITag:     "310",
		Executable: "/usr/bin/python3.10",
		Target:     target.Target{Os: target.Linux, Arch: target.X86_64},
	}
}

func TestBuildRust(t *testing.T) {
	s := newFakeSetup(t, []string{"   Compiling mymod", pyo3Script, depArtifact, cdylibArtifact})
	req := Request{
		LibName:        "mymod",
		ManifestPath:   "/src/mymod/Cargo.toml",
		BindingCrate:   "pyo3",
		VersionFeature: true,
	}

	path, err := s.driver.BuildRust(req, hostPython())
	require.NoError(t, err)
	assert.Equal(t, "/src/target/release/libmymod.so", path)

	assert.Equal(t,
		"build --lib --quiet --manifest-path /src/mymod/Cargo.toml --features pyo3/python3 --release --message-format json",
		s.read(t, "args"))
	env := s.read(t, "env")
	assert.Contains(t, env, "PYO3_PYTHON=/usr/bin/python3.10")
	assert.Contains(t, env, "PYTHON_SYS_EXECUTABLE=/usr/bin/python3.10")
	assert.NoFileExists(t, filepath.Join(s.dir, "config"))

	require.NotNil(t, s.progress)
	assert.Equal(t, 3, s.progress.total)
	assert.Equal(t, 4, s.progress.inc)
	assert.True(t, s.progress.finished)
}

func TestBuildRustDebugAndCross(t *testing.T) {
	s := newFakeSetup(t, []string{cdylibArtifact})
	row, ok := sysconfig.Lookup(target.Linux, target.Aarch64, 3, 11)
	require.True(t, ok)
	cross := interpreter.FromConfig(target.Target{Os: target.Linux, Arch: target.Aarch64, Triple: "aarch64-unknown-linux-gnu"}, row)

	req := Request{
		LibName:      "mymod",
		ManifestPath: "Cargo.toml",
		Debug:        true,
		TargetTriple: "aarch64-unknown-linux-gnu",
		ExtraArgs:    []string{"--locked"},
	}
	_, err := s.driver.BuildRust(req, cross)
	require.NoError(t, err)

	assert.Equal(t,
		"build --lib --quiet --manifest-path Cargo.toml --target aarch64-unknown-linux-gnu --locked --message-format json",
		s.read(t, "args"))
	assert.Equal(t, strings.TrimSpace(row.PyO3Config()), s.read(t, "config"))
}

func TestBuildRustBinary(t *testing.T) {
	bin := `{"reason":"compiler-artifact","package_id":"tool 0.1.0 (path+file:///src/tool)","target":{"name":"tool","kind":["bin"],"crate_types":["bin"]},"filenames":["/src/target/release/tool"]}`
	s := newFakeSetup(t, []string{bin})

	path, err := s.driver.BuildRust(Request{LibName: "tool", ManifestPath: "Cargo.toml", Binary: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "/src/target/release/tool", path)
	assert.False(t, strings.Contains(s.read(t, "args"), "--lib"))
}

func TestBuildRustArtifactErrors(t *testing.T) {
	s := newFakeSetup(t, []string{pyo3Script, depArtifact})
	_, err := s.driver.BuildRust(Request{LibName: "mymod", ManifestPath: "Cargo.toml", BindingCrate: "pyo3"}, hostPython())
	assert.ErrorIs(t, err, ErrArtifactMissing)

	s = newFakeSetup(t, []string{rlibArtifact})
	_, err = s.driver.BuildRust(Request{LibName: "mymod", ManifestPath: "Cargo.toml"}, hostPython())
	assert.ErrorIs(t, err, ErrArtifactKindMissing)
}

func TestBuildRustFailures(t *testing.T) {
	s := newFakeSetup(t, []string{cdylibArtifact}, "FAKE_EXIT=101")
	_, err := s.driver.BuildRust(Request{LibName: "mymod", ManifestPath: "Cargo.toml"}, hostPython())
	assert.ErrorIs(t, err, ErrBuildFailed)
	// the stream is consumed before the exit status is looked at
	require.NotNil(t, s.progress)
	assert.Equal(t, 1, s.progress.inc)

	s = newFakeSetup(t, nil, "FAKE_PLAN_EXIT=1")
	_, err = s.driver.BuildRust(Request{LibName: "mymod", ManifestPath: "Cargo.toml"}, hostPython())
	assert.ErrorIs(t, err, ErrBuildPlan)
	assert.Nil(t, s.progress)

	s = newFakeSetup(t, nil)
	s.driver.Cargo = filepath.Join(s.dir, "does-not-exist")
	_, err = s.driver.BuildRust(Request{LibName: "mymod", ManifestPath: "Cargo.toml"}, hostPython())
	assert.ErrorIs(t, err, ErrLaunch)
}

func TestBuildRustTranscript(t *testing.T) {
	s := newFakeSetup(t, []string{"   Compiling mymod", cdylibArtifact})
	s.driver.TranscriptPath = filepath.Join(s.dir, "messages.zst")

	_, err := s.driver.BuildRust(Request{LibName: "mymod", ManifestPath: "Cargo.toml"}, hostPython())
	require.NoError(t, err)

	lines, err := ReadTranscript(s.driver.TranscriptPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"   Compiling mymod", cdylibArtifact}, lines)
}
