// Package resolve canonicalizes proxy targets and resolves references found
// in fetched documents.
//
// Resolution rules:
//   - "//host/path" is protocol-relative and always becomes https
//   - "/path" resolves against the origin of the document base
//   - anything else follows RFC 3986 reference resolution
//
// Fragment-only references and the data, blob, javascript, mailto, tel and
// about schemes are never proxied. Resolve reports them with ErrNotProxiable
// and callers leave the original text in place.
//
// Example Usage:
//
//	target, err := resolve.Canonicalize("example.com")
//	abs, err := resolve.Resolve("../img/x.png", target)
//	proxied := resolve.Proxy("http://localhost:8000/proxy?session=abc&url=", abs)
package resolve
