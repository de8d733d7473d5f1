// Package client is the authenticated HTTP client for the remote
// authentication API.
//
// A Client owns three collaborators:
//
//   - a tokenstore.Store holding the current access/refresh token pair
//   - a Transport that puts the access token on every outgoing request
//   - a Coordinator that refreshes the pair when the API answers 401
//
// # Quick Start
//
//	store := tokenstore.New(tokenstore.Config{
//	    Durable: durableStorage,
//	    Session: tokenstore.NewMemoryStorage(0, 0),
//	    Mirror:  tokenstore.ResponseMirror{},
//	})
//
//	api, err := client.New(client.Config{
//	    BaseURL: "https://api.example.com/v1",
//	    Store:   store,
//	})
//
//	// remember=true keeps the session across browser restarts
//	user, err := api.Login(ctx, "ada@example.com", "secret", true)
//
// # Refreshing
//
// When a request comes back 401, the Transport asks the Coordinator for a new
// access token and replays the request once. Concurrent 401s share a single
// refresh exchange: the first caller performs it, later callers wait in a
// queue and are released in arrival order with the same result. The new pair
// is saved into the scope the old refresh token lived in.
//
// A 401 from a lifecycle endpoint (login, register, logout, refresh) is never
// refreshed. A 401 on a replayed request clears the store.
//
// # Errors
//
// Every failure is an *Error carrying a Kind:
//
//	projects, err := api.Projects(ctx)
//	switch client.KindOf(err) {
//	case client.KindUnauthorized:
//	    // the session is gone; the store has been cleared, send the user to login
//	case client.KindValidation:
//	    // show the message to the user
//	case client.KindNetwork, client.KindServer:
//	    // try again later
//	}
//
// Refresh failures are returned to the caller unchanged. Redirecting to a
// login page is the caller's decision.
//
// # Testing
//
// Depend on the API interface rather than *Client, and use pkg/authtest for a
// working in-process authentication API.
package client
