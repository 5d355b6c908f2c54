package rewrite

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/webrelay/backend/internal/domain/resolve"
)

const testProxyBase = "https://relay.local/proxy?session=s1&url="

func newContext(t *testing.T, document string) Context {
	t.Helper()
	u, err := url.Parse(document)
	require.NoError(t, err)
	return Context{DocumentURL: u, ProxyBase: testProxyBase}
}

func proxied(target string) string {
	return resolve.Proxy(testProxyBase, target)
}

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestHTMLRewritesLinks(t *testing.T) {
	ctx := newContext(t, "https://example.com/")

	out := HTML(`<html><head></head><body><a href="/about">About</a></body></html>`, ctx)

	assert.Contains(t, out, `href="https://relay.local/proxy?session=s1&url=https%3A%2F%2Fexample.com%2Fabout"`)
}

func TestHTMLRewritesURLAttributes(t *testing.T) {
	ctx := newContext(t, "https://site.example/blog/post.html")
	in := `<html><head>
<link rel="stylesheet" href="../css/main.css">
<script src="//cdn.example/app.js"></script>
</head><body>
<img src="img/a.png" data-src="img/lazy.png">
<video poster="/poster.jpg"></video>
<form action="/search" method="get"></form>
<object data="movie.swf"></object>
<table background="bg.gif"></table>
</body></html>`

	doc := parseDoc(t, HTML(in, ctx))

	cases := []struct {
		selector string
		attr     string
		target   string
	}{
		{"link", "href", "https://site.example/css/main.css"},
		{"script[src]", "src", "https://cdn.example/app.js"},
		{"img", "src", "https://site.example/blog/img/a.png"},
		{"img", "data-src", "https://site.example/blog/img/lazy.png"},
		{"video", "poster", "https://site.example/poster.jpg"},
		{"form", "action", "https://site.example/search"},
		{"object", "data", "https://site.example/blog/movie.swf"},
		{"table", "background", "https://site.example/blog/bg.gif"},
	}
	for _, tc := range cases {
		t.Run(tc.selector+"@"+tc.attr, func(t *testing.T) {
			got, ok := doc.Find(tc.selector).First().Attr(tc.attr)
			require.True(t, ok)
			assert.Equal(t, proxied(tc.target), got)
		})
	}
}

func TestHTMLLeavesNonProxiableUntouched(t *testing.T) {
	ctx := newContext(t, "https://example.com/")

	for _, ref := range []string{
		"#top",
		"javascript:void(0)",
		"mailto:someone@example.com",
		"tel:+15550100",
		"data:image/png;base64,AAAA",
		"about:blank",
	} {
		t.Run(ref, func(t *testing.T) {
			in := `<a href="` + ref + `">x</a>`
			assert.Contains(t, HTML(in, ctx), in)
		})
	}
}

func TestHTMLPreservesQuoteStyle(t *testing.T) {
	ctx := newContext(t, "https://example.com/")

	out := HTML(`<body><a href='/a'>a</a><a href=/b>b</a><a HREF="/c">c</a></body>`, ctx)

	assert.Contains(t, out, `href='`+proxied("https://example.com/a")+`'`)
	assert.Contains(t, out, `href=`+proxied("https://example.com/b")+`>`)
	assert.Contains(t, out, `HREF="`+proxied("https://example.com/c")+`"`)
}

func TestHTMLDecodesAmpersandsInURLs(t *testing.T) {
	ctx := newContext(t, "https://example.com/")

	out := HTML(`<body><a href="/s?a=1&amp;b=2" title="x &amp; y">s</a></body>`, ctx)

	assert.Contains(t, out, proxied("https://example.com/s?a=1&b=2"))
	assert.Contains(t, out, `title="x &amp; y"`)
}

func TestHTMLIsIdempotent(t *testing.T) {
	ctx := newContext(t, "https://example.com/dir/")
	in := `<html><head><style>body{background:url(bg.png)}</style></head>
<body><a href="/about">a</a><img srcset="a.png 1x, b.png 2x" style="background:url('c.png')"></body></html>`

	once := HTML(in, ctx)
	twice := HTML(once, ctx)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, strings.Count(twice, snippetMarker))
}

func TestHTMLSnippetPlacement(t *testing.T) {
	ctx := newContext(t, "https://example.com/")

	t.Run("before head close", func(t *testing.T) {
		out := HTML(`<html><head><title>t</title></head><body>x</body></html>`, ctx)
		at := strings.Index(out, snippetMarker)
		require.Positive(t, at)
		assert.Less(t, at, strings.Index(out, "</head>"))
		assert.Greater(t, at, strings.Index(out, "<title>"))
	})

	t.Run("after body open", func(t *testing.T) {
		out := HTML(`<body class="main"><p>x</p></body>`, ctx)
		assert.True(t, strings.HasPrefix(out, `<body class="main"><script `+snippetMarker))
	})

	t.Run("prepended", func(t *testing.T) {
		out := HTML(`<p>fragment</p>`, ctx)
		assert.True(t, strings.HasPrefix(out, `<script `+snippetMarker))
		assert.True(t, strings.HasSuffix(out, `<p>fragment</p>`))
	})

	t.Run("head close inside script ignored", func(t *testing.T) {
		in := `<html><head><script>var s = "</head>";</script></head><body></body></html>`
		out := HTML(in, ctx)
		assert.Contains(t, out, `var s = "</head>";`)
		assert.Equal(t, 1, strings.Count(out, snippetMarker))
		assert.Less(t, strings.Index(out, `var s`), strings.Index(out, snippetMarker))
	})
}

func TestHTMLStripsBlockingMarkup(t *testing.T) {
	ctx := newContext(t, "https://example.com/")
	in := `<html><head>
<meta http-equiv="Content-Security-Policy" content="default-src 'self'">
<meta http-equiv="content-security-policy-report-only" content="default-src 'none'">
<meta http-equiv="X-Frame-Options" content="DENY">
<meta charset="utf-8">
<script src="/app.js" integrity="sha384-abc" crossorigin="anonymous" nonce="r4nd"></script>
</head><body></body></html>`

	out := HTML(in, ctx)

	root, err := htmlquery.Parse(strings.NewReader(out))
	require.NoError(t, err)
	assert.Empty(t, htmlquery.Find(root, "//meta[@http-equiv]"))
	assert.Len(t, htmlquery.Find(root, "//meta[@charset]"), 1)

	script := htmlquery.FindOne(root, "//script[@src]")
	require.NotNil(t, script)
	assert.Equal(t, proxied("https://example.com/app.js"), htmlquery.SelectAttr(script, "src"))
	assert.NotContains(t, out, "integrity")
	assert.NotContains(t, out, "crossorigin")
	assert.NotContains(t, out, "nonce")
}

func TestHTMLBaseHref(t *testing.T) {
	ctx := newContext(t, "https://example.com/page")

	out := HTML(`<html><head><base href="https://static.example/assets/"></head><body><img src="logo.png"></body></html>`, ctx)

	assert.NotContains(t, out, "<base")
	assert.Contains(t, out, proxied("https://static.example/assets/logo.png"))
}

func TestHTMLMetaRefresh(t *testing.T) {
	ctx := newContext(t, "https://example.com/old/")

	out := HTML(`<head><meta http-equiv="refresh" content="0; url=/new"></head>`, ctx)

	assert.Contains(t, out, `content="0; url=`+proxied("https://example.com/new")+`"`)
}

func TestHTMLRewritesSrcsetAndStyles(t *testing.T) {
	ctx := newContext(t, "https://example.com/gallery/")
	in := `<html><head><style>@import "theme.css"; .hero { background: url(hero.jpg) }</style></head>
<body><img srcset="small.jpg 480w, large.jpg 1080w" style="background-image: url(&quot;tile.png&quot;)"></body></html>`

	out := HTML(in, ctx)
	doc := parseDoc(t, out)

	srcset, ok := doc.Find("img").Attr("srcset")
	require.True(t, ok)
	assert.Equal(t,
		proxied("https://example.com/gallery/small.jpg")+" 480w, "+proxied("https://example.com/gallery/large.jpg")+" 1080w",
		srcset)

	style, ok := doc.Find("img").Attr("style")
	require.True(t, ok)
	assert.Contains(t, style, proxied("https://example.com/gallery/tile.png"))

	css := doc.Find("style").Text()
	assert.Contains(t, css, `@import "`+proxied("https://example.com/gallery/theme.css")+`"`)
	assert.Contains(t, css, "url("+proxied("https://example.com/gallery/hero.jpg")+")")
}

func TestHTMLKeepsScriptBodies(t *testing.T) {
	ctx := newContext(t, "https://example.com/")
	in := `<body><script>var a = '<a href="/x">';</script><!-- <a href="/y"> --></body>`

	out := HTML(in, ctx)

	assert.Contains(t, out, `var a = '<a href="/x">';`)
	assert.Contains(t, out, `<!-- <a href="/y"> -->`)
}

func TestHTMLKeepsTextareaAndTitleText(t *testing.T) {
	ctx := newContext(t, "https://example.com/")
	in := `<html><head><title>Use <a href="/t"> tags</title></head>` +
		`<body><textarea name="c"><a href="/x">link</a></textarea><a href="/y">y</a></body></html>`

	out := HTML(in, ctx)

	assert.Contains(t, out, `<title>Use <a href="/t"> tags</title>`)
	assert.Contains(t, out, `<textarea name="c"><a href="/x">link</a></textarea>`)
	assert.Contains(t, out, proxied("https://example.com/y"))
}

func TestHTMLToleratesMalformedMarkup(t *testing.T) {
	ctx := newContext(t, "https://example.com/")
	in := `<!DOCTYPE html><p>1 < 2 and <a href="/ok">ok</a> <div class="unterminated`

	out := HTML(in, ctx)

	assert.Contains(t, out, "<!DOCTYPE html>")
	assert.Contains(t, out, "1 < 2")
	assert.Contains(t, out, proxied("https://example.com/ok"))
	assert.Contains(t, out, `<div class="unterminated`)
}

func TestSnippetEscapesValues(t *testing.T) {
	u, err := url.Parse("https://example.com/</script><script>alert(1)</script>")
	require.NoError(t, err)

	out := Snippet(Context{DocumentURL: u, ProxyBase: testProxyBase})

	assert.Equal(t, 1, strings.Count(out, "</script>"))
	assert.True(t, strings.HasSuffix(out, "</script>"))
}
