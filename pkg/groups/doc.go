// Package groups maps caller keys to group memberships.
//
// Caller keys are either decimal account ids or remote host addresses.
// Remote hosts are anonymous and resolve to "Anonymous Users" only. Accounts
// belong to "Anonymous Users" and "Registered Users" plus their explicit
// groups.
//
// Two directories are provided:
//
//   - Static: accounts listed in the service configuration
//   - SQLite: accounts and memberships stored in a SQLite database
//
// Both also resolve display names for the list command and usernames given
// to replenish.
package groups
