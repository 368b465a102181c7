//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore implementation of
// creatorauth.AccountStore for deployments on Google Cloud Platform.
//
// # Datastore Kinds
//
//   - Account: the account record, keyed by account id. Linked providers and
//     identities are stored as unindexed JSON.
//   - AccountEmail: keyed by normalized email, points at the owning account
//   - AccountUsername: keyed by lower-cased username, points at the owning account
//
// The index kinds are written in the same transaction as the account, which
// is how email and username uniqueness is enforced.
//
// # Namespacing
//
// Pass a namespace to isolate tenants:
//
//	store := gae.NewAccountStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	store := gae.NewAccountStore(client, "") // default namespace
package gae
