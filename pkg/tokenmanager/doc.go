/*
Package tokenmanager keeps a customer's access token usable.

# States

A Manager has no state field; its state is derived from storage on every
call:

  - unauthenticated: no access token stored
  - valid: token present and more than RefreshBuffer from expiry
  - needs refresh: token present and within RefreshBuffer of expiry
  - refreshing: a refresh is in flight
  - invalid: malformed, past exp, or bound to a high risk device

# Refresh

RefreshToken is single flight: every concurrent caller waits on the same
backend round trip and sees the same result. The round trip is detached from
the caller's context so a cancelled caller cannot abandon a half rotated
token pair. Attempts are retried with linear backoff, and the device gate
runs before each one; a high risk device is refused without a network call.

When every attempt fails, the manager emits refresh_failed, clears the token
pair and the stored fingerprint, then emits token_expired. Nothing is
returned as an error: callers see booleans and events.

# Tabs

Several managers can share one token store. After a successful refresh a
manager pings its tabsync.Bus; peers re-validate from storage and emit
token_rotated with source "remote" when they notice a new refresh token.
The ping is advisory. Two tabs can still refresh at the same time, and the
one whose refresh token was already rotated recovers on the next attempt by
re-reading storage.
*/
package tokenmanager
