package chromedp_page

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/user/lumos/internal/dom"
)

const fixture = `<!doctype html><html><body>
<div id="productDetail"><img id="hero" src="/a.png" alt="" style="width:300px;height:800px"></div>
</body></html>`

// openFixture needs a Chrome binary and skips unless LUMOS_TEST_CHROME is
// set.
func openFixture(t *testing.T) *Page {
	t.Helper()
	if os.Getenv("LUMOS_TEST_CHROME") == "" {
		t.Skip("LUMOS_TEST_CHROME not set")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, fixture)
	}))
	t.Cleanup(srv.Close)

	p, err := Open(context.Background(), srv.URL+"/p/1", Options{Headless: true, PageLoadTimeout: 30 * time.Second})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPageReadsAndWrites(t *testing.T) {
	p := openFixture(t)

	imgs := p.QueryAll("#productDetail img")
	require.Len(t, imgs, 1)
	img := imgs[0]

	assert.Equal(t, "img", img.TagName())
	assert.True(t, img.IsConnected())
	alt, ok := img.Attr("alt")
	assert.True(t, ok)
	assert.Empty(t, alt)
	_, ok = img.Attr("aria-label")
	assert.False(t, ok)

	rect := img.BoundingRect()
	assert.InDelta(t, 300, rect.Width, 0.5)
	assert.InDelta(t, 800, rect.Height, 0.5)

	require.NoError(t, img.SetAttr("alt", "테스트 설명"))
	alt, _ = img.Attr("alt")
	assert.Equal(t, "테스트 설명", alt)

	again, ok := p.ElementByID(img.ID())
	require.True(t, ok)
	assert.Equal(t, img.ID(), again.ID())
	assert.True(t, p.Body().Contains(img))
}

func TestPageObservesMutations(t *testing.T) {
	p := openFixture(t)

	got := make(chan []dom.MutationRecord, 8)
	disconnect, err := p.Observe(dom.ObserveOptions{AttributeFilter: []string{"src"}}, func(recs []dom.MutationRecord) {
		got <- recs
	})
	require.NoError(t, err)
	defer disconnect()

	img := p.QueryAll("#hero")[0]
	require.NoError(t, img.SetAttr("src", "/b.png"))

	select {
	case recs := <-got:
		require.NotEmpty(t, recs)
		assert.Equal(t, dom.MutationAttributes, recs[0].Kind)
		assert.Equal(t, "src", recs[0].AttributeName)
		assert.Equal(t, img.ID(), recs[0].Target.ID())
	case <-time.After(5 * time.Second):
		t.Fatal("no mutation delivered")
	}
}

func TestPageLiveRegion(t *testing.T) {
	p := openFixture(t)

	region, err := p.CreateLiveRegion()
	require.NoError(t, err)
	require.NoError(t, region.SetText("분석 중"))
	assert.Equal(t, "분석 중", region.Text())
	require.NoError(t, region.Remove())
	assert.Empty(t, p.QueryAll("[data-lumos-live-region]"))
}

func TestAttributeUnion(t *testing.T) {
	p := &Page{observers: map[int]*observer{
		0: {opts: dom.ObserveOptions{AttributeFilter: []string{"src", "alt"}}},
		1: {opts: dom.ObserveOptions{AttributeFilter: []string{"src"}}},
		2: {},
	}}
	assert.Equal(t, []string{"alt", "src"}, p.attributeUnionLocked())
}

func TestDeliverFiltersPerObserver(t *testing.T) {
	var structural, attrs []dom.MutationRecord
	p := &Page{logger: zap.NewNop(), observers: map[int]*observer{
		0: {fn: func(r []dom.MutationRecord) { structural = append(structural, r...) }},
		1: {opts: dom.ObserveOptions{AttributeFilter: []string{"src"}}, fn: func(r []dom.MutationRecord) { attrs = append(attrs, r...) }},
	}}

	p.deliver(`[{"kind":1,"target":1,"added":[4,5],"removed":[],"attr":""},{"kind":2,"target":4,"added":[],"removed":[],"attr":"src"}]`)

	require.Len(t, structural, 1)
	assert.Equal(t, dom.MutationChildList, structural[0].Kind)
	require.Len(t, structural[0].Added, 2)
	assert.Equal(t, dom.ElementID(5), structural[0].Added[1].ID())

	require.Len(t, attrs, 2)
	assert.Equal(t, "src", attrs[1].AttributeName)
	assert.Equal(t, dom.ElementID(4), attrs[1].Target.ID())
}

func TestFireLoadedRunsWaitersOnce(t *testing.T) {
	p := &Page{waiters: map[dom.ElementID][]func(){}}
	calls := 0
	p.waiters[7] = []func(){func() { calls++ }}

	p.fireLoaded(7)
	p.fireLoaded(7)
	assert.Equal(t, 1, calls)
}
