// Package resources loads the files the dashboard serves from and reloads
// them when they change on disk.
package resources

import (
	"bytes"
	"errors"
	"html/template"
	"io/fs"
	"path/filepath"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var ErrNoTemplates = errors.New("templates are not loaded")

// Templates renders html templates parsed either from an embedded file
// system or from a directory that is reparsed whenever it changes.
type Templates struct {
	current atomic.Pointer[template.Template]
	log     logrus.FieldLogger
	stop    func() error
}

// NewEmbeddedTemplates parses every file in fsys matching pattern.
func NewEmbeddedTemplates(
	fsys fs.FS,
	pattern string,
) (
	*Templates,
	error,
) {
	tmpl, err := template.ParseFS(fsys, pattern)
	if err != nil {
		return nil, err
	}
	t := &Templates{log: logrus.StandardLogger()}
	t.current.Store(tmpl)
	return t, nil
}

// NewDynamicTemplates parses every file in directory and watches it. A
// reload that fails to parse keeps the previous set in place.
func NewDynamicTemplates(
	directory string,
	log logrus.FieldLogger,
) (
	*Templates,
	error,
) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &Templates{log: log.WithField("templates", directory)}
	if err := t.load(directory); err != nil {
		return nil, err
	}

	stop, err := Watch(directory, log, func() {
		if err := t.load(directory); err != nil {
			t.log.WithError(err).Error("failed to reload templates")
		}
	})
	if err != nil {
		return nil, err
	}
	t.stop = stop
	return t, nil
}

func (t *Templates) load(directory string) error {
	tmpl, err := template.ParseGlob(filepath.Join(directory, "*"))
	if err != nil {
		return err
	}
	t.current.Store(tmpl)
	t.log.Debug("loaded templates")
	return nil
}

func (t *Templates) Render(name string, data any) ([]byte, error) {
	tmpl := t.current.Load()
	if tmpl == nil {
		return nil, ErrNoTemplates
	}
	var buf bytes.Buffer
	err := tmpl.ExecuteTemplate(&buf, name, data)
	return buf.Bytes(), err
}

func (t *Templates) Close() error {
	if t.stop == nil {
		return nil
	}
	return t.stop()
}
