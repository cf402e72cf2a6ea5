// Package logging builds the service's slog loggers.
//
// # Overview
//
// New returns a *slog.Logger writing JSON or text. With RedactRemoteHosts
// set, string attributes have IP addresses, email addresses and bearer
// tokens masked, so anonymous caller keys never reach the log in full:
//
//	logger, err := logging.New(logging.Config{
//	    Level:             "info",
//	    Format:            "json",
//	    RedactRemoteHosts: true,
//	})
//
// Request ids placed on a context with WithRequestID are attached to records
// logged through the *Context methods.
//
// # Stats Log
//
// NewStatsLogger opens the append-only event log that receives warn and
// blocked notifications.
package logging
