// Package secrets encrypts the small secrets redmine-bridge keeps at rest:
// cached Redmine API tokens and the optional encrypted database password
// in the config file.
//
// One 32-byte key is generated on first start and stored in the fast store
// under "encryption:key". Every process sharing that store shares the key.
// If the key disappears, every decrypt fails with ErrKeyMissing rather than
// falling back to anything.
package secrets
