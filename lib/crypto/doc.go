// Package crypto provides the crypto collaborator of the session runtime.
//
// The package does not implement cryptographic primitives. IBackend wraps an
// existing implementation (AES-CTR and SHA-256 from the standard library) or
// the "none" backend that fails every call with a CryptoUnavailable error.
//
// Pool bounds the number of goroutines doing CPU bound crypto work at the same
// time (by default min(4, NumCPU)), seals payloads as iv || ciphertext and
// caches recent hash digests.
package crypto
