// Package credentials resolves a chat login to its Redmine API token, user
// id and chat binding.
//
// Tokens live in the Redmine database (SQLBackingStore) and are cached in
// the fast store for a configurable TTL, encrypted with the secrets keyring.
// Token and user id are one cache entry so they appear and expire together.
// The chat binding (which Matrix room to notify) is a separate entry without
// expiry and is refreshed whenever the user writes from a different room.
//
//	cred:<login>   {"token": <sealed>, "user_id": n}   TTL
//	chat:<login>   room id                              no TTL
//
// Resolution is serialized per login, so concurrent misses for one login
// produce a single database query.
package credentials
