// Package auth is medauth's authentication engine.
//
// Engine ties the user store, the session service, the credential hasher and
// the notifier together into the account flows: register, role-scoped login,
// refresh rotation, logout and the OTP password-reset sequence. Transport lives
// in auth/api; persistence lives in identity and auth/session.
//
// Every failure is an *Error carrying one of the Err* kinds, so callers can
// switch on errors.Is without caring which layer produced it.
package auth
