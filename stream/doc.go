// Package stream maintains a long-lived websocket subscription against the
// backend: it dials with the active credential attached, normalizes inbound
// frames into events, and reconnects with linear backoff when the link drops.
package stream
