package connection

import (
	"encoding/hex"
	"io"
	"net"

	"github.com/Huginntech/tmkms/types"
)

// Conn is the duplex byte stream a validator link runs over. Read and Write
// follow io semantics; any error other than a clean close is unrecoverable
// for the connection.
type Conn interface {
	io.ReadWriteCloser
}

// PlainConn is the trusted local channel. It adds nothing on top of the
// underlying socket; it exists so link setup can treat both transports
// uniformly.
type PlainConn struct {
	net.Conn
}

// NewPlainConn wraps a local socket as a Conn.
func NewPlainConn(c net.Conn) *PlainConn {
	return &PlainConn{Conn: c}
}

// PeerID returns the printable identity of a long-term public key: the hex
// form of its 20-byte address. Used for peer pinning in link configuration.
func PeerID(pub types.PublicKey) string {
	return hex.EncodeToString(pub.Address())
}
