package saliency

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// externalMethod runs a configured command over a directory of frames.
// "{input}" and "{output}" inside any argument are replaced with the
// absolute input and output directories.
type externalMethod struct {
	name    string
	command []string
	ext     string
	logger  zerolog.Logger
}

func (m *externalMethod) Name() string      { return m.name }
func (m *externalMethod) Kind() Kind        { return DirectoryKind }
func (m *externalMethod) Output() Output    { return Raster }
func (m *externalMethod) OutputExt() string { return m.ext }

func (m *externalMethod) args(in, out string) []string {
	r := strings.NewReplacer("{input}", in, "{output}", out)
	args := make([]string, len(m.command))
	for i, a := range m.command {
		args[i] = r.Replace(a)
	}
	return args
}

func (m *externalMethod) ComputeDir(ctx context.Context, in, out string) error {
	in, err := filepath.Abs(in)
	if err != nil {
		return err
	}
	out, err = filepath.Abs(out)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(out, 0755); err != nil {
		return err
	}

	args := m.args(in, out)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	m.logger.Debug().Strs("args", args).Msg("running external method")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %v: %s", ErrExternalTool, m.name, err, tail(output.String(), 512))
	}

	n, err := CountOutputs(out, m.ext)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s produced no .%s files in %s", ErrExternalTool, m.name, m.ext, out)
	}
	return nil
}

// CountOutputs counts regular, non-hidden files with extension ext in dir.
func CountOutputs(dir, ext string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	suffix := "." + strings.TrimPrefix(strings.ToLower(ext), ".")
	n := 0
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && !strings.HasPrefix(name, ".") && strings.HasSuffix(strings.ToLower(name), suffix) {
			n++
		}
	}
	return n, nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return "..." + s[len(s)-n:]
	}
	return s
}
