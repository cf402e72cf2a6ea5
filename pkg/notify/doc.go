// Package notify delivers warn and blocked events emitted by the limiters.
//
// A Dispatcher implements ratelimit.Notifier. Events are queued without
// blocking the acquiring request, rendered into messages such as
//
//	User alice reached the warning limit of 8 upload pack per 60 minutes.
//
// and handed to sinks. The LogSink records every event in the stats log.
// Filtered sinks, such as the WebhookSink, only receive events for accounts
// that belong to one of the policy's notification recipient groups.
package notify
