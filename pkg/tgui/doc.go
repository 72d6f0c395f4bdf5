// Package tgui holds small helpers for Telegram HTML messages and inline
// keyboards: escaping, inline tags, rune-safe truncation, list pagination,
// callback data packing and a TTL token store for oversized payloads.
package tgui
