// Package atproto links accounts to AT Protocol identities.
//
// Every account gets at most one federated identity: a DID, usually a
// handle, and for custodially provisioned identities an encrypted signing
// credential held on the account's behalf. The package provides the pieces
// the identity engine wires together:
//
//   - Client talks to a PDS identity server (account creation, handle
//     availability).
//   - Directory resolves DIDs to their documents through a PLC directory,
//     with did:web resolution and an optional private directory that falls
//     back to the public one.
//   - Linker implements identity.FederatedIdentityEnsurer: it links
//     externally owned identities as-is and provisions custodial ones for
//     accounts that arrived through OAuth or passwords.
//   - ServiceAuthVerifier validates inter-service auth tokens signed by a
//     DID's key and exchanges them for platform sessions.
//
// Linking is best effort end to end. Failures that a later login can retry
// are reported as recoverable (identity.IsRecoverable) so callers degrade
// instead of failing the sign-in.
package atproto
