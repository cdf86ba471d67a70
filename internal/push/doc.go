// Package push delivers Web Push notifications without a push-protocol
// library: VAPID sender authentication (RFC 8292) signed as an ES256 JWT,
// optional aes128gcm payload encryption (RFC 8291), and delivery with
// pruning of subscriptions the push service reports as gone.
package push
