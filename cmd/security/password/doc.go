// Package password is the credential hasher.
//
// Secrets are hashed with Argon2id and stored as PHC-style strings:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Encoded hashes are untrusted input during verification. Malformed strings and
// parameter sets far above the configured cost are rejected instead of computed.
package password
