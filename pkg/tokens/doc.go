// Package tokens holds the credential material exchanged with the remote
// authentication API and the helpers that inspect it.
//
// Two distinct roles live here:
//
//   - Peeking: Expiration and Usable read the "exp" claim of an access token
//     without verifying its signature. The route guard uses this to decide
//     whether a cookie still looks like a live session.
//   - Issuing: Issuer mints and verifies ES256 tokens. Only the development
//     auth API (pkg/authtest) issues tokens; the dashboard never does.
//
// # Peeking
//
//	if tokens.Usable(cookie.Value, time.Now()) {
//	    // treat the browser as signed in
//	}
//
// Usable fails closed only on a clearly absent or clearly expired token.
// Opaque (non-JWT) tokens and tokens whose claims cannot be decoded are
// considered usable, since the remote API remains the authority.
//
// # Issuing
//
//	key, _ := tokens.GenerateKey()
//	issuer := tokens.NewIssuer(key, "auth.example.com")
//
//	access, err := issuer.IssueAccessToken("user-1", 15*time.Minute)
//	refresh, err := issuer.IssueRefreshToken("user-1", 30*24*time.Hour)
//
//	claims, err := issuer.Verify(access, tokens.UseAccess)
//	switch {
//	case errors.Is(err, tokens.ErrTokenExpired()):
//	case errors.Is(err, tokens.ErrTokenWrongUse()):
//	}
package tokens
