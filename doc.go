// Package creatorauth reconciles email/OTP signup and OAuth login into a
// single account per email, and keeps the third-party tokens of linked
// analytics providers usable over time.
//
// # Architecture
//
// Account: the one durable record per email. It carries the verification
// state, an optional username and password hash, the OAuth identities the
// user has logged in with, and the linked analytics providers.
//
// IdentityMachine: the account lifecycle. Its operations move an account
// through the derived states
//
//	PendingVerification -> VerifiedNoUsername -> VerifiedNoPassword -> Active
//
// Each operation is one read-modify-write of the account, guarded by the
// account's Version so concurrent writers surface as Conflict errors.
//
// TokenVault: per-user, per-provider access and refresh tokens. A call that
// the provider rejects is refreshed once and retried once.
//
// Aggregator: concurrent metrics fetch across linked providers, reporting one
// result (metrics or error) per provider.
//
// # Basic Usage
//
//	cfg := (&creatorauth.Config{JWTSecretKey: secret}).EnsureDefaults()
//	store := fs.NewAccountStore("/var/data/creatorauth")
//	machine := creatorauth.NewIdentityMachine(cfg, store, &creatorauth.ConsoleMailer{})
//
//	res, err := machine.Signup(ctx, creatorauth.SignupRequest{Email: "a@example.com"})
//	...
//	_, err = machine.ValidateOTP(ctx, creatorauth.ValidateOTPRequest{Email: "a@example.com", Code: code})
//
// Providers are registered once and shared by the vault and the aggregator:
//
//	registry := creatorauth.NewProviderRegistry().
//	    Register(oauth2.NewYouTubeOAuth2(cfg.Providers["youtube"]))
//	vault := creatorauth.NewTokenVault(store, registry, creatorauth.NewLocalLocker())
//	agg := creatorauth.NewAggregator(cfg, vault, registry)
//	results := agg.Aggregate(ctx, userID, []creatorauth.ProviderID{creatorauth.ProviderYouTube})
//
// # Errors
//
// Every operation returns *Error with a Kind from a closed set (not_found,
// conflict, expired, invalid_credential, precondition_failed,
// validation_error, unauthorized, forbidden, upstream_error) and a stable
// Code. Use errors.Is with the Err* sentinels to test the kind.
package creatorauth
