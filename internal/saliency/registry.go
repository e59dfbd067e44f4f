package saliency

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/ivlev/salcache/internal/config"
)

type Options struct {
	// External lists directory-based tools by method name.
	External map[string]config.ExternalMethod
	Logger   zerolog.Logger
}

func builtin(name string) Method {
	switch name {
	case "contrast":
		return &frameMethod{name: name, compute: contrast}
	case "harris":
		return &frameMethod{name: name, compute: harris}
	case "centersurround", "itti":
		return &frameMethod{name: name, compute: itti}
	case "motion":
		return &sequenceMethod{name: name, output: Raster, compute: motion}
	case "flow":
		return &sequenceMethod{name: name, output: Flow, compute: flow}
	case "magflow":
		return &sequenceMethod{name: name, output: Raster, compute: magflow}
	}
	return nil
}

var builtinNames = []string{"centersurround", "contrast", "flow", "harris", "itti", "magflow", "motion"}

// New creates the method registered under name.
func New(name string, opts Options) (Method, error) {
	if m := builtin(name); m != nil {
		return m, nil
	}
	if ext, ok := opts.External[name]; ok {
		if len(ext.Command) == 0 {
			return nil, fmt.Errorf("saliency: external method %q has no command", name)
		}
		out := ext.Ext
		if out == "" {
			out = "jpg"
		}
		return &externalMethod{name: name, command: ext.Command, ext: out, logger: opts.Logger}, nil
	}
	return nil, fmt.Errorf("%w: %q (available: %v)", ErrUnknownMethod, name, Names(opts))
}

// Names lists every method New accepts, sorted.
func Names(opts Options) []string {
	names := append([]string(nil), builtinNames...)
	for name := range opts.External {
		if builtin(name) == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// AsSequence returns m as a SequenceComputer when it can run in-process.
func AsSequence(m Method) (SequenceComputer, bool) {
	s, ok := m.(SequenceComputer)
	return s, ok
}

func errFrameSize(i int) error {
	return fmt.Errorf("saliency: frame %d differs in size from frame 0", i)
}
