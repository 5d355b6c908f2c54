// Package rewrite turns fetched HTML and CSS into documents whose every
// URL-bearing reference routes back through the proxy.
//
// The engine works on serialized text with patterns, never on a DOM, so
// markup a conformant parser would restructure passes through untouched.
// One pass over an HTML document:
//  1. skips comments, copies script bodies verbatim, CSS-rewrites style bodies
//  2. drops CSP and X-Frame-Options meta tags, <base>, and the
//     integrity, nonce and crossorigin attributes
//  3. rewrites URL attributes, srcset candidates and inline style url() tokens
//  4. injects the navigation interception snippet exactly once
//
// A reference that fails to resolve is left exactly as it was; one bad URL
// never aborts the document. Values that already point at the proxy are left
// alone, so rewriting twice does not double-encode.
package rewrite
