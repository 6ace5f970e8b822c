package connection

import (
	"bytes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Huginntech/tmkms/types"
	"github.com/Huginntech/tmkms/wire"
)

const (
	// dataMaxSize is the plaintext capacity of one sealed chunk.
	dataMaxSize = 1024
	// chunkSize is length prefix + plaintext capacity.
	chunkSize = 4 + dataMaxSize
	// sealedSize adds the AEAD tag.
	sealedSize = chunkSize + 16

	nonceSize = chacha20poly1305.NonceSize
)

const (
	transcriptLabelLegacy  = "REMOTE_SIGNER_TRANSCRIPT_LEGACY"
	transcriptLabelCurrent = "REMOTE_SIGNER_TRANSCRIPT_V1"
	hkdfInfoLegacy         = "TENDERMINT_SECRET_CONNECTION_KEY_AND_CHALLENGE_GEN"
	hkdfInfoCurrent        = "REMOTE_SIGNER_KEY_AND_CHALLENGE_GEN_V1"
)

// Secret connection errors
var (
	ErrHandshakeAuth   = errors.New("handshake signature verification failed")
	ErrChunkAuth       = errors.New("chunk authentication failed")
	ErrNonceExhausted  = errors.New("nonce space exhausted")
	ErrOversizedChunk  = errors.New("decrypted chunk declares oversized payload")
	ErrSmallEphKey     = errors.New("malformed ephemeral public key")
	ErrConnectionNoise = errors.New("secret connection is poisoned")
)

// SecretConnection is an authenticated encrypted channel over an arbitrary
// duplex byte stream. All state (session keys, nonce counters, read
// buffer) is owned by the instance; nothing is shared or persisted.
type SecretConnection struct {
	conn io.ReadWriteCloser

	remotePub types.PublicKey

	sendMu    sync.Mutex
	sendAEAD  cipher.AEAD
	sendNonce uint64

	recvMu    sync.Mutex
	recvAEAD  cipher.AEAD
	recvNonce uint64
	leftover  []byte
	broken    bool
}

// Secure runs the handshake over conn and returns the encrypted channel.
// The identity key authenticates this side to the peer; the peer's identity
// key is learned during the handshake and available via RemotePubKey.
// On any error the conn must be considered dead and closed by the caller.
func Secure(conn io.ReadWriteCloser, identity ed25519.PrivateKey, version types.ProtocolVersion) (*SecretConnection, error) {
	var ephPriv [32]byte
	if _, err := rand.Read(ephPriv[:]); err != nil {
		return nil, errors.Wrap(err, "generate ephemeral key")
	}
	ephPub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, errors.Wrap(err, "derive ephemeral public key")
	}

	theirEphPub, err := share(conn, ephPub)
	if err != nil {
		return nil, errors.Wrap(err, "exchange ephemeral keys")
	}
	if len(theirEphPub) != 32 {
		return nil, errors.Wrapf(ErrSmallEphKey, "%d bytes", len(theirEphPub))
	}

	secret, err := curve25519.X25519(ephPriv[:], theirEphPub)
	if err != nil {
		return nil, errors.Wrap(err, "compute shared secret")
	}

	// Lexicographic ordering of the two ephemeral keys assigns low/high
	// roles deterministically, which fixes both the derivation input order
	// and which key serves which direction. No negotiation round needed.
	weAreLow := bytes.Compare(ephPub, theirEphPub) < 0
	lo, hi := ephPub, theirEphPub
	if !weAreLow {
		lo, hi = theirEphPub, ephPub
	}

	label, info := transcriptLabelLegacy, hkdfInfoLegacy
	if version != types.VersionLegacy {
		label, info = transcriptLabelCurrent, hkdfInfoCurrent
	}
	th := sha256.New()
	th.Write([]byte(label))
	th.Write(lo)
	th.Write(hi)
	transcript := th.Sum(nil)

	// The two versions differ in derivation layout: current salts the KDF
	// with the transcript and signs the transcript itself; legacy derives
	// the challenge purely from the shared secret.
	var salt []byte
	if version != types.VersionLegacy {
		salt = transcript
	}
	kdf := hkdf.New(sha256.New, secret, salt, []byte(info))
	keyMaterial := make([]byte, 96)
	if _, err := io.ReadFull(kdf, keyMaterial); err != nil {
		return nil, errors.Wrap(err, "derive session keys")
	}

	var recvKey, sendKey []byte
	if weAreLow {
		recvKey, sendKey = keyMaterial[0:32], keyMaterial[32:64]
	} else {
		recvKey, sendKey = keyMaterial[32:64], keyMaterial[0:32]
	}
	signedMaterial := keyMaterial[64:96]
	if version != types.VersionLegacy {
		signedMaterial = transcript
	}

	sendAEAD, err := chacha20poly1305.New(sendKey)
	if err != nil {
		return nil, errors.Wrap(err, "send cipher")
	}
	recvAEAD, err := chacha20poly1305.New(recvKey)
	if err != nil {
		return nil, errors.Wrap(err, "receive cipher")
	}

	sc := &SecretConnection{
		conn:     conn,
		sendAEAD: sendAEAD,
		recvAEAD: recvAEAD,
	}

	// Authenticate over the already-encrypted channel.
	authSig := ed25519.Sign(identity, signedMaterial)
	ourAuth := marshalAuth(identity.Public().(ed25519.PublicKey), authSig)
	theirAuth, err := shareOver(sc, ourAuth)
	if err != nil {
		return nil, errors.Wrap(err, "exchange auth signatures")
	}
	peerPub, peerSig, err := unmarshalAuth(theirAuth)
	if err != nil {
		return nil, errors.Wrap(err, "decode peer auth")
	}
	if !ed25519.Verify(ed25519.PublicKey(peerPub), signedMaterial, peerSig) {
		return nil, ErrHandshakeAuth
	}
	sc.remotePub = peerPub
	return sc, nil
}

// RemotePubKey returns the peer's long-term identity key, valid after a
// successful handshake.
func (sc *SecretConnection) RemotePubKey() types.PublicKey {
	return sc.remotePub
}

// Write seals p into bounded chunks. Each chunk consumes one send nonce.
func (sc *SecretConnection) Write(p []byte) (int, error) {
	sc.sendMu.Lock()
	defer sc.sendMu.Unlock()

	var total int
	for len(p) > 0 {
		chunk := p
		if len(chunk) > dataMaxSize {
			chunk = p[:dataMaxSize]
		}
		p = p[len(chunk):]

		var frame [chunkSize]byte
		binary.LittleEndian.PutUint32(frame[:4], uint32(len(chunk)))
		copy(frame[4:], chunk)

		nonce, err := sc.nextNonce(&sc.sendNonce)
		if err != nil {
			return total, err
		}
		sealed := sc.sendAEAD.Seal(nil, nonce, frame[:], nil)
		if _, err := sc.conn.Write(sealed); err != nil {
			return total, errors.Wrap(err, "write sealed chunk")
		}
		total += len(chunk)
	}
	return total, nil
}

// Read returns plaintext from the next sealed chunk, buffering any excess.
// An authentication failure permanently poisons the connection.
func (sc *SecretConnection) Read(p []byte) (int, error) {
	sc.recvMu.Lock()
	defer sc.recvMu.Unlock()

	if sc.broken {
		return 0, ErrConnectionNoise
	}
	if len(sc.leftover) > 0 {
		n := copy(p, sc.leftover)
		sc.leftover = sc.leftover[n:]
		return n, nil
	}

	sealed := make([]byte, sealedSize)
	if _, err := io.ReadFull(sc.conn, sealed); err != nil {
		return 0, err
	}
	nonce, err := sc.nextNonce(&sc.recvNonce)
	if err != nil {
		return 0, err
	}
	frame, err := sc.recvAEAD.Open(nil, nonce, sealed, nil)
	if err != nil {
		sc.broken = true
		return 0, ErrChunkAuth
	}
	length := binary.LittleEndian.Uint32(frame[:4])
	if length > dataMaxSize {
		sc.broken = true
		return 0, ErrOversizedChunk
	}
	data := frame[4 : 4+length]
	n := copy(p, data)
	if n < len(data) {
		sc.leftover = append(sc.leftover[:0], data[n:]...)
	}
	return n, nil
}

// Close closes the underlying stream, unblocking in-flight reads/writes.
func (sc *SecretConnection) Close() error {
	return sc.conn.Close()
}

// nextNonce returns the 12-byte nonce for the given direction counter and
// advances it. The counter occupies the trailing 8 bytes little-endian;
// exhaustion is fatal since reuse under the same key breaks the cipher.
func (sc *SecretConnection) nextNonce(counter *uint64) ([]byte, error) {
	if *counter == ^uint64(0) {
		return nil, ErrNonceExhausted
	}
	var nonce [nonceSize]byte
	binary.LittleEndian.PutUint64(nonce[4:], *counter)
	*counter++
	return nonce[:], nil
}

// share sends our payload as a frame and reads the peer's, concurrently so
// the exchange cannot deadlock on an unbuffered transport.
func share(rw io.ReadWriter, out []byte) ([]byte, error) {
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- wire.WriteFrame(rw, out)
	}()
	in, err := wire.ReadFrame(rw)
	if werr := <-writeErr; werr != nil {
		return nil, werr
	}
	if err != nil {
		return nil, err
	}
	return in, nil
}

// shareOver is share running through the newborn encrypted channel.
func shareOver(sc *SecretConnection, out []byte) ([]byte, error) {
	return share(struct {
		io.Reader
		io.Writer
	}{sc, sc}, out)
}

func marshalAuth(pub ed25519.PublicKey, sig []byte) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendBytes(buf, pub)
	buf = protowire.AppendTag(buf, 2, protowire.BytesType)
	buf = protowire.AppendBytes(buf, sig)
	return buf
}

func unmarshalAuth(data []byte) (types.PublicKey, []byte, error) {
	var pub types.PublicKey
	var sig []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, nil, protowire.ParseError(n)
		}
		data = data[n:]
		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, nil, protowire.ParseError(m)
			}
			data = data[m:]
			continue
		}
		val, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, nil, protowire.ParseError(m)
		}
		data = data[m:]
		switch num {
		case 1:
			p, err := types.NewPublicKey(val)
			if err != nil {
				return nil, nil, err
			}
			pub = p
		case 2:
			sig = append([]byte(nil), val...)
		}
	}
	if pub == nil || len(sig) != ed25519.SignatureSize {
		return nil, nil, errors.New("incomplete auth message")
	}
	return pub, sig, nil
}
