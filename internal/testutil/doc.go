// Package testutil provides test helpers for go-audiofork packages.
//
// It includes key generation, JWK set documents built with go-jose, an
// in-memory JWKS host that answers HTTP clients without real sockets, a
// builder for signed tokens carrying kid and iss, and self-signed
// certificates for TLS tests.
//
// # Utilities
//
//   - GenerateRSAKey / GenerateECKey: signing keys for test tokens
//   - PublicJWK / JWKSBody: key set documents
//   - JWKSHost: serves key sets by URL and counts fetches
//   - NewToken: fluent builder for signed tokens
//   - TamperSignature: corrupt a token's signature
//   - WriteTestCertAndKey: temporary certificate and key for TLS tests
package testutil
