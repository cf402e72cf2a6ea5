// Package policy holds the immutable rate limit policy table and the
// resolution of a caller key to its effective limits.
//
// # Policy Document
//
// Policies are written per group. The order of groups in the document is the
// priority order: a caller in several configured groups is bound by the
// first one listed.
//
//	groups:
//	  - name: Administrators
//	    uploadpackperhour: 1000
//	  - name: Registered Users
//	    uploadpackperhour: 100
//	    uploadpackperhourwarn: 90
//	    timelapseinminutes: 30
//	  - name: Anonymous Users
//	    uploadpackperhour: 10
//	notifications:
//	  recipients: [Registered Users]
//	messages:
//	  upload_pack_limit_exceeded: "Exceeded rate limit of ${rateLimit} fetch requests/hour"
//
// A group without an entry for a kind is unlimited for that kind.
//
// # Resolution
//
// Identified callers (numeric account ids) resolve through a Directory to
// their group memberships. Every other key is a remote host and resolves to
// the Anonymous Users group only.
package policy
