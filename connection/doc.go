// Package connection provides the byte-stream channels a validator link
// runs over.
//
// Two implementations exist behind the Conn contract: SecretConnection, an
// authenticated encrypted channel for network links, and PlainConn, a
// pass-through for local trusted sockets. The framed codec and the
// dispatcher above them depend only on Conn and cannot tell the two apart:
// a PlainConn carries exactly the byte stream a SecretConnection would
// carry after decryption.
//
// # Secret connection
//
// The handshake exchanges ephemeral X25519 public keys, sorts them
// lexicographically to assign low/high roles without negotiation, derives
// per-direction keys and a challenge from the shared secret with
// HKDF-SHA256, then exchanges Ed25519 signatures by the long-term identity
// keys over the encrypted channel and verifies them. Verification failure
// aborts the connection before any application byte flows.
//
// After the handshake, writes are split into chunks of at most 1024 bytes;
// every chunk is sealed independently with ChaCha20-Poly1305 under a
// counter nonce that is never reused. An authentication failure on read
// poisons the connection: no plaintext from the failing chunk is ever
// surfaced.
package connection
