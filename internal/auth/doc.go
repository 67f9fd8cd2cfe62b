// Package auth guarantees that a valid session exists for a provider before
// any upload or share call is made against it.
//
// The [Coordinator] owns the per-provider session cache. [Coordinator.Ensure]
// returns a cached session without I/O when one is valid. Otherwise it joins
// a per-provider critical section, so concurrent callers for the same
// provider collapse into a single handshake and share its outcome, and then
// tries, in order, the persistent [SessionStore], a refresh-token grant, and
// finally an interactive handshake through a [Surface].
//
// A handshake opens the provider's authorization URL on the surface and waits
// for either the out-of-band completion signal or the surface being closed by
// the user, which is polled at a fixed interval. Authorization codes are
// exchanged for tokens via golang.org/x/oauth2, optionally bound to a PKCE
// verifier. The verifier lives only for the duration of the handshake; it is
// never stored in a [Session], logged, or persisted.
//
// Providers without a registered [Flow] need no handshake and receive an
// anonymous session.
package auth
