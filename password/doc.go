// Package password produces and checks salted one-way digests.
//
// Two cost tiers are offered. The high tier protects account passwords and
// is bcrypt by default, or argon2id in PHC format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// The low tier is minimum-cost bcrypt and protects session tokens, which are
// compared on every refresh. Bcrypt input is pre-digested with SHA-256 so
// that long secrets such as signed tokens are not truncated at 72 bytes.
//
// Compare picks the algorithm from the digest prefix, and
// [Hasher.NeedsRehash] reports digests that should be upgraded on the next
// successful sign-in.
//
// This package never stores secrets and never logs them.
package password
