package rewrite

import (
	"strings"

	"github.com/bytedance/sonic"
)

// snippetMarker identifies the injected script so a second pass skips it.
const snippetMarker = "data-webrelay"

const snippetTemplate = `<script ` + snippetMarker + `="1">(function () {
  var PROXY_BASE = __PROXY_BASE__, DOC_ORIGIN = __DOC_ORIGIN__, DOC_URL = __DOC_URL__;
  if (window.__webrelay) { return; }
  window.__webrelay = { base: PROXY_BASE, origin: DOC_ORIGIN, url: DOC_URL };

  var framed = (function () {
    try { return window.self !== window.top; } catch (e) { return true; }
  })();

  function skip(href) {
    if (!href) { return true; }
    var h = href.trim().toLowerCase();
    if (h === '' || h.charAt(0) === '#') { return true; }
    var schemes = ['javascript:', 'data:', 'blob:', 'mailto:', 'tel:', 'about:'];
    for (var i = 0; i < schemes.length; i++) {
      if (h.indexOf(schemes[i]) === 0) { return true; }
    }
    return false;
  }

  function unwrap(href) {
    try {
      var u = new URL(href, window.location.href);
      var p = new URL(PROXY_BASE, window.location.href);
      if (u.origin === p.origin && u.pathname === p.pathname) {
        return u.searchParams.get('url');
      }
    } catch (e) {}
    return null;
  }

  function absolute(href) {
    var inner = unwrap(href);
    if (inner) { return inner; }
    try { return new URL(href, DOC_URL).href; } catch (e) { return null; }
  }

  function proxied(target) {
    return PROXY_BASE + encodeURIComponent(target);
  }

  function go(target) {
    if (framed) {
      window.parent.postMessage({ type: 'navigate', url: target }, '*');
    } else {
      window.location.href = proxied(target);
    }
  }

  document.addEventListener('click', function (ev) {
    if (ev.defaultPrevented) { return; }
    var el = ev.target;
    while (el && !(el.tagName && el.tagName.toLowerCase() === 'a')) { el = el.parentNode; }
    if (!el) { return; }
    var raw = el.getAttribute('href');
    if (skip(raw)) { return; }
    var target = absolute(raw);
    if (!target) { return; }
    ev.preventDefault();
    go(target);
  }, false);

  document.addEventListener('submit', function (ev) {
    if (ev.defaultPrevented) { return; }
    var form = ev.target;
    if (!form || !form.tagName || form.tagName.toLowerCase() !== 'form') { return; }
    ev.preventDefault();

    var method = (form.getAttribute('method') || 'GET').toUpperCase();
    var rawAction = form.getAttribute('action');
    var action = (rawAction && !skip(rawAction)) ? absolute(rawAction) : DOC_URL;
    if (!action) { action = DOC_URL; }

    var data = new FormData(form);
    if (ev.submitter && ev.submitter.name) { data.append(ev.submitter.name, ev.submitter.value || ''); }

    if (method === 'GET') {
      var u = new URL(action);
      var params = new URLSearchParams();
      data.forEach(function (v, k) { if (typeof v === 'string') { params.append(k, v); } });
      var qs = params.toString();
      go(u.origin + u.pathname + (qs ? '?' + qs : ''));
      return;
    }

    if (form.querySelector('input[type=file]')) {
      form.setAttribute('action', proxied(action));
      HTMLFormElement.prototype.submit.call(form);
      return;
    }

    var hidden = document.createElement('form');
    hidden.method = 'POST';
    hidden.action = proxied(action);
    hidden.enctype = form.getAttribute('enctype') || 'application/x-www-form-urlencoded';
    if (form.getAttribute('target')) { hidden.target = form.getAttribute('target'); }
    hidden.style.display = 'none';
    data.forEach(function (v, k) {
      if (typeof v !== 'string') { return; }
      var input = document.createElement('input');
      input.type = 'hidden';
      input.name = k;
      input.value = v;
      hidden.appendChild(input);
    });
    (document.body || document.documentElement).appendChild(hidden);
    HTMLFormElement.prototype.submit.call(hidden);
  }, false);
})();</script>`

// Snippet renders the interception script for ctx. The three interpolated
// values are JSON string literals with <, > and & escaped, so no value can
// close the script element or break out of its string.
func Snippet(ctx Context) string {
	docURL := ""
	if ctx.DocumentURL != nil {
		docURL = ctx.DocumentURL.String()
	}
	return strings.NewReplacer(
		"__PROXY_BASE__", jsString(ctx.ProxyBase),
		"__DOC_ORIGIN__", jsString(ctx.Origin()),
		"__DOC_URL__", jsString(docURL),
	).Replace(snippetTemplate)
}

func jsString(s string) string {
	encoded, err := sonic.ConfigStd.MarshalToString(s)
	if err != nil {
		return `""`
	}
	// JSON allows these separators raw; older JS parsers do not.
	encoded = strings.ReplaceAll(encoded, "\u2028", `\u2028`)
	return strings.ReplaceAll(encoded, "\u2029", `\u2029`)
}
