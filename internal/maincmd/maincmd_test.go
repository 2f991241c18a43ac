package maincmd_test

import (
	"bytes"
	"context"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/mna/mainer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kahflane/naml/internal/filetest"
	"github.com/kahflane/naml/internal/maincmd"
)

var testUpdateTokenizeTests = flag.Bool("test.update-tokenize-tests", false, "If set, replace expected tokenize test results with actual results.")

func TestTokenize(t *testing.T) {
	ctx := context.Background()
	srcDir, resultDir := filepath.Join("testdata", "in"), filepath.Join("testdata", "out")

	for _, fi := range filetest.SourceFiles(t, srcDir, ".naml") {
		t.Run(fi.Name(), func(t *testing.T) {
			var buf, ebuf bytes.Buffer
			stdio := mainer.Stdio{
				Stdout: &buf,
				Stderr: &ebuf,
			}

			// error is ignored, we just want it to be printed to ebuf
			_ = maincmd.TokenizeFiles(ctx, stdio, filepath.Join(srcDir, fi.Name()))
			filetest.DiffOutput(t, fi, buf.String(), resultDir, testUpdateTokenizeTests)

			if t.Failed() && testing.Verbose() {
				b, err := os.ReadFile(filepath.Join(srcDir, fi.Name()))
				if assert.NoError(t, err) {
					t.Logf("source file:\n%s\n", string(b))
				}
			}
		})
	}
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "hello.naml")
	require.NoError(t, os.WriteFile(file, []byte(`fn main() { print("run ok"); }`), 0o600))

	var buf, ebuf bytes.Buffer
	c := &maincmd.Cmd{}
	code := c.Main([]string{"naml", "run", file}, mainer.Stdio{Stdout: &buf, Stderr: &ebuf})
	require.Equal(t, mainer.Success, code, "stderr: %s", ebuf.String())
	require.Contains(t, buf.String(), "run ok")
}

func TestCheckCommandReportsErrors(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bad.naml")
	require.NoError(t, os.WriteFile(file, []byte(`fn main() { var x: int = true; }`), 0o600))

	var buf, ebuf bytes.Buffer
	c := &maincmd.Cmd{}
	code := c.Main([]string{"naml", "check", file}, mainer.Stdio{Stdout: &buf, Stderr: &ebuf})
	require.Equal(t, mainer.Failure, code)
	require.Contains(t, ebuf.String(), "expected int, found bool")
}

func TestBuildCommandWritesModule(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "p.naml")
	require.NoError(t, os.WriteFile(file, []byte(`fn main() { print(1); }`), 0o600))
	out := filepath.Join(dir, "p.ll")

	var buf, ebuf bytes.Buffer
	c := &maincmd.Cmd{}
	code := c.Main([]string{"naml", "build", "-o", out, file}, mainer.Stdio{Stdout: &buf, Stderr: &ebuf})
	require.Equal(t, mainer.Success, code, "stderr: %s", ebuf.String())

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Contains(t, string(b), "define i32 @main()")
}
