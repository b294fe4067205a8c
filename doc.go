// Package identity reconciles the many ways a person can authenticate into a
// single canonical account, and keeps that account linked to a decentralized
// federation identity (DID + handle on a personal data server).
//
// Account lifecycle:
//   - Accounts carry an AccountStatus persisted via Bun. A shadow account is
//     created by low-friction flows (an anonymous RSVP, an import) before the
//     owner has ever signed in; it becomes active the first time the owner
//     authenticates with the matching identity. AccountStateMachine centralizes
//     the transition graph so a shadow account only ever moves forward.
//
// Reconciliation:
//   - Reconciler.Login is the single entry point for every provider (password,
//     OAuth, federation protocol). It finds-or-creates the account, promotes or
//     claims shadow accounts, ensures a federated identity link, and issues a
//     fresh session. Linking failures degrade: an account without a federated
//     identity is a normal, self-healing state, never a login error.
//
// Service auth:
//   - atproto.ServiceAuthVerifier validates inter-service tokens signed by
//     DID-published keys and exchanges them for internal sessions, provisioning
//     local accounts on first contact.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the reconciler and
//     the state machine to describe login, promotion, and claim events. Sinks
//     run best-effort (errors are logged) so you can forward to a database or
//     queue without blocking authentication.
package identity
