package resources_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.sr.ht/~jakintosh/gatehouse/internal/resources"
)

func TestWatch_File(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a"), 0644))

	var calls atomic.Int32
	stop, err := resources.Watch(path, nil, func() { calls.Add(1) })
	require.NoError(t, err)
	t.Cleanup(func() { stop() })

	// changes to siblings are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other"), []byte("x"), 0644))
	time.Sleep(2 * resources.ReloadDelay)
	assert.Equal(t, int32(0), calls.Load())

	// a burst of writes collapses into one reload
	for _, content := range []string{"b", "c", "d"} {
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatch_Missing(t *testing.T) {
	t.Parallel()
	_, err := resources.Watch(filepath.Join(t.TempDir(), "nope"), nil, func() {})
	assert.Error(t, err)
}

func TestEmbeddedTemplates(t *testing.T) {
	t.Parallel()
	fsys := fstest.MapFS{
		"templates/hello.html": {Data: []byte(`hello {{.}}`)},
	}
	tmpl, err := resources.NewEmbeddedTemplates(fsys, "templates/*.html")
	require.NoError(t, err)

	out, err := tmpl.Render("hello.html", "<ada>")
	require.NoError(t, err)
	assert.Equal(t, "hello &lt;ada&gt;", string(out))

	_, err = tmpl.Render("missing.html", nil)
	assert.Error(t, err)
	assert.NoError(t, tmpl.Close())
}

func TestDynamicTemplates_Reload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte(`v1`), 0644))

	tmpl, err := resources.NewDynamicTemplates(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { tmpl.Close() })

	out, err := tmpl.Render("page.html", nil)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(out))

	require.NoError(t, os.WriteFile(path, []byte(`v2`), 0644))
	require.Eventually(t, func() bool {
		out, err := tmpl.Render("page.html", nil)
		return err == nil && string(out) == "v2"
	}, 5*time.Second, 20*time.Millisecond)

	// a broken edit keeps the last good set
	require.NoError(t, os.WriteFile(path, []byte(`{{`), 0644))
	time.Sleep(3 * resources.ReloadDelay)
	out, err = tmpl.Render("page.html", nil)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(out))
}
