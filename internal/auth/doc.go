// Package auth provides bearer token authentication for prompt-forge.
//
// When auth.jwt_secret is configured, prompt management writes (creating and
// deleting prompts, publishing versions, rollbacks) require an HS256 JWT in
// the Authorization header:
//
//	Authorization: Bearer <token>
//
// The token's "sub" claim becomes the principal, available to handlers via
// FromContext or PrincipalID, and is used as the default version author.
// Tokens are minted with JWTVerifier.Generate or the `prompt-forge token` command.
//
// Subscription endpoints are not gated: agents identify themselves with the
// X-Agent-ID header.
package auth
