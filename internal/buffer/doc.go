// Package buffer provides bounded byte buffers with in-place URL, base64 and
// HMAC-SHA256 transforms, plus a borrowed read-only View used to slice
// parsed inputs without copying.
package buffer
