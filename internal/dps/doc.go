// Package dps provisions a device through the Azure Device Provisioning
// Service using a hand-built HTTP/1.1 exchange over a secure byte stream.
//
// The handshake has two phases. Register sends a PUT with the device's
// registration id and reads back an operation id; Poll repeats a GET on that
// operation until the service reports the assigned hub. Responses are not
// parsed as HTTP: the client skips to the first '{' and scans for the
// fields it needs, with the body capped at a fixed size.
package dps
