// Package session implements medauth's refresh-token sessions.
//
// A session row is created with an unmatchable placeholder digest, then
// finalized with the digest of the refresh token minted for it (two-phase
// issuance, because the refresh token embeds the session id). Every refresh
// rotates the stored digest in place under a row lock; a presented token whose
// digest no longer matches is treated as reuse and the session is deleted.
//
// Row presence is the session state: logout, reuse and expiry all delete.
package session
