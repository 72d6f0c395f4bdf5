// Package notifier delivers recovery notifications to Telegram.
//
// A notification is a caption with a "View Profile" button and, when
// screenshots are enabled, a rendered profile card. Photo delivery falls back
// to plain text. Each delivery is retried with exponential backoff and paced
// by a token bucket shared by all sends of the client.
//
// The service keeps a small in-memory history of delivered captions for
// /status.
package notifier
