package engine

import (
	"io"
	"os"
	"path/filepath"
)

// Source is script text held in memory or named by a filesystem path.
type Source struct {
	name   string
	text   string
	path   string
	onDisk bool
}

// Memory returns an in-memory source. name is used in diagnostics.
func Memory(name, text string) Source {
	if name == "" {
		name = "<script>"
	}
	return Source{name: name, text: text}
}

// Path returns a source read from p when compiled.
func Path(p string) Source {
	return Source{name: filepath.Base(p), path: p, onDisk: true}
}

// Name returns the name diagnostics refer to.
func (s Source) Name() string { return s.name }

// FilePath returns the path of an on-disk source, or "".
func (s Source) FilePath() string { return s.path }

// load returns the source text or the typed error that stops compilation
// before the parser runs.
func (s Source) load() (string, error) {
	if !s.onDisk {
		if s.text == "" {
			return "", &EmptyScriptError{Name: s.name}
		}
		return s.text, nil
	}

	f, err := os.Open(s.path)
	if err != nil {
		return "", &PathError{Path: s.path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", &PathError{Path: s.path, Err: err}
	}
	if info.IsDir() {
		return "", &PathError{Path: s.path, Err: errIsDirectory}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return "", &AllocError{Op: "read " + s.path, Err: err}
	}
	if len(data) == 0 {
		return "", &EmptyScriptError{Name: s.name}
	}
	return string(data), nil
}
