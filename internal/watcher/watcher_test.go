package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/lumos/internal/dom"
	"github.com/user/lumos/internal/dom/vdom"
)

type recorder struct {
	added, removed, changed []string
}

func (r *recorder) handlers(withChanged bool) Handlers {
	h := Handlers{
		OnImageAdded:   func(el dom.Element) { r.added = append(r.added, el.CurrentSrc()) },
		OnImageRemoved: func(el dom.Element) { r.removed = append(r.removed, el.CurrentSrc()) },
	}
	if withChanged {
		h.OnImageSrcChanged = func(el dom.Element) { r.changed = append(r.changed, el.CurrentSrc()) }
	}
	return h
}

func newDoc(t *testing.T) *vdom.Document {
	t.Helper()
	doc, err := vdom.ParseString("https://shop.example/", `<body><div id="root"><img id="a" src="/a.jpg"></div></body>`)
	require.NoError(t, err)
	return doc
}

func TestAddedContainersExpandToImages(t *testing.T) {
	doc := newDoc(t)
	rec := &recorder{}
	w := New(rec.handlers(true), nil)
	require.NoError(t, w.Start(doc))
	defer w.Stop()

	root := doc.QueryAll("#root")[0]
	_, err := doc.AppendHTML(root, `<section><p><img src="/b.jpg"></p><img src="/c.jpg"></section><img src="/d.jpg"><span>text</span>`)
	require.NoError(t, err)

	assert.Equal(t, []string{"/b.jpg", "/c.jpg", "/d.jpg"}, rec.added)
}

func TestRemovedContainerRemovesDescendants(t *testing.T) {
	doc := newDoc(t)
	rec := &recorder{}
	w := New(rec.handlers(true), nil)
	require.NoError(t, w.Start(doc))
	defer w.Stop()

	require.NoError(t, doc.Remove(doc.QueryAll("#root")[0]))
	assert.Equal(t, []string{"/a.jpg"}, rec.removed)
}

func TestSrcChange(t *testing.T) {
	doc := newDoc(t)
	rec := &recorder{}
	w := New(rec.handlers(true), nil)
	require.NoError(t, w.Start(doc))
	defer w.Stop()

	img := doc.QueryAll("#a")[0]
	require.NoError(t, img.SetAttr("alt", "not observed"))
	require.NoError(t, img.SetAttr("src", "/a2.jpg"))

	assert.Equal(t, []string{"/a2.jpg"}, rec.changed)
	assert.Empty(t, rec.added)
}

func TestSrcChangeFallsBackToAdded(t *testing.T) {
	doc := newDoc(t)
	rec := &recorder{}
	w := New(rec.handlers(false), nil)
	require.NoError(t, w.Start(doc))
	defer w.Stop()

	require.NoError(t, doc.QueryAll("#a")[0].SetAttr("src", "/a2.jpg"))
	assert.Equal(t, []string{"/a2.jpg"}, rec.added)
}

func TestSrcChangeOnNonImageIgnored(t *testing.T) {
	doc := newDoc(t)
	rec := &recorder{}
	w := New(rec.handlers(true), nil)
	require.NoError(t, w.Start(doc))
	defer w.Stop()

	require.NoError(t, doc.QueryAll("#root")[0].SetAttr("src", "/x.jpg"))
	assert.Empty(t, rec.changed)
	assert.Empty(t, rec.added)
}

func TestStopDisconnects(t *testing.T) {
	doc := newDoc(t)
	rec := &recorder{}
	w := New(rec.handlers(true), nil)
	require.NoError(t, w.Start(doc))
	assert.ErrorIs(t, w.Start(doc), ErrAlreadyStarted)

	w.Stop()
	w.Stop()
	assert.False(t, w.Running())

	_, err := doc.AppendHTML(doc.QueryAll("#root")[0], `<img src="/late.jpg">`)
	require.NoError(t, err)
	assert.Empty(t, rec.added)

	require.NoError(t, w.Start(doc))
	assert.True(t, w.Running())
	w.Stop()
}

func TestStartRequiresAddedHandler(t *testing.T) {
	w := New(Handlers{}, nil)
	assert.Error(t, w.Start(newDoc(t)))
}
