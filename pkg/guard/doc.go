// Package guard decides, for each incoming navigation, whether to let it
// through, send it to the login page, or send it to the dashboard.
//
// Paths are classified against a Routes table:
//
//	Protected  requires a usable access token cookie
//	AuthOnly   login and signup pages, pointless once signed in
//	Public     everything else, including the skip list
//
// The cookie check is structural only (see tokens.Usable). A token whose
// expiry cannot be read is let through, because the remote API rejects
// bad tokens on every request anyway.
package guard
