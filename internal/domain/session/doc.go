// Package session provides the per-session cookie jar that threads
// upstream Set-Cookie values across stateless proxy requests.
//
// Each browsing session is keyed by an opaque token chosen by the client or
// issued by the proxy. The jar keeps one accumulated Cookie header per
// session:
//   - RecordSetCookies keeps only the name=value pair of each Set-Cookie
//   - Values are appended, duplicates by name are tolerated
//   - Touch refreshes the idle timer without changing cookies
//   - Sweep drops sessions idle for longer than the configured ceiling
//
// Example Usage:
//
//	jar := session.NewJar(30 * time.Minute)
//	go jar.Run(ctx, time.Minute)
//	jar.RecordSetCookies("abc", resp.Header.Values("Set-Cookie"))
//	cookie, ok := jar.CookieHeader("abc")
package session
