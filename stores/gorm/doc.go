//go:build !wasm
// +build !wasm

// Package gorm provides a GORM-based implementation of creatorauth.AccountStore.
// It supports any database that GORM supports and is the storage used for
// production deployments on PostgreSQL.
//
// # Database Schema
//
//   - accounts: one row per creator, unique on email and on the lower-cased
//     username (username_key)
//   - social_links: one row per (account, analytics provider) with the
//     provider's tokens
//
// On PostgreSQL the schema comes from the goose migrations in the migrations
// package. Other dialects (SQLite in tests) use AutoMigrate.
//
// Writes are guarded by the account's version column: UpdateAccount only
// succeeds if the stored version still matches, otherwise it reports
// creatorauth.ErrConcurrentUpdate.
//
// # Usage
//
//	db, _ := gormstore.OpenPostgres(ctx, dsn)
//	store := gormstore.NewAccountStore(db)
package gorm
