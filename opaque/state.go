package opaque

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/cretz/gopaque/gopaque"
	"go.dedis.ch/kyber/v3"
)

// Blob layout versions. Handshake state never leaves the server, so these can
// change freely; CredentialFormatV0 is durable and must only grow.
const (
	registrationStateV1 = 1
	loginStateV1        = 1

	// CredentialFormatV0 is the only credential file layout in existence.
	CredentialFormatV0 = 0
)

var (
	errBlobVersion = errors.New("opaque: unknown blob version")
	errBlobShape   = errors.New("opaque: malformed blob")
)

// registrationState is what the server must remember between registration
// start and finish: the per-user OPRF key and the user ID it was issued for.
type registrationState struct {
	UserID []byte
	KU     kyber.Scalar
}

// loginState is what the server must remember between login start and finish:
// enough SIGMA material to verify the client's finalization and derive the
// session key.
type loginState struct {
	UserID          []byte
	UserPublicKey   kyber.Point
	UserExchangeKey kyber.Point // g^x, client ephemeral
	ServerExchange  kyber.Point // g^y, server ephemeral
	SharedSecret    kyber.Point // g^xy
}

// credential is the durable per-account record produced at registration
// finish. ServerPrivateKey is global and deliberately not part of it.
type credential struct {
	UserID        []byte
	UserPublicKey kyber.Point
	EnvU          []byte
	KU            kyber.Scalar
}

func encodeRegistrationState(st *registrationState) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(registrationStateV1)
	if err := writeVarBytes(&buf, st.UserID); err != nil {
		return nil, err
	}
	if err := writeScalar(&buf, st.KU); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRegistrationState(data []byte) (*registrationState, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, errBlobShape
	}
	if version != registrationStateV1 {
		return nil, errBlobVersion
	}
	st := &registrationState{}
	if st.UserID, err = readVarBytes(r); err != nil {
		return nil, err
	}
	if st.KU, err = readScalar(r); err != nil {
		return nil, err
	}
	return st, assertDrained(r)
}

func encodeLoginState(st *loginState) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(loginStateV1)
	if err := writeVarBytes(&buf, st.UserID); err != nil {
		return nil, err
	}
	for _, p := range []kyber.Point{st.UserPublicKey, st.UserExchangeKey, st.ServerExchange, st.SharedSecret} {
		if err := writePoint(&buf, p); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeLoginState(data []byte) (*loginState, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, errBlobShape
	}
	if version != loginStateV1 {
		return nil, errBlobVersion
	}
	st := &loginState{}
	if st.UserID, err = readVarBytes(r); err != nil {
		return nil, err
	}
	for _, dst := range []*kyber.Point{&st.UserPublicKey, &st.UserExchangeKey, &st.ServerExchange, &st.SharedSecret} {
		if *dst, err = readPoint(r); err != nil {
			return nil, err
		}
	}
	return st, assertDrained(r)
}

func encodeCredential(c *credential) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(CredentialFormatV0)
	if err := writeVarBytes(&buf, c.UserID); err != nil {
		return nil, err
	}
	if err := writePoint(&buf, c.UserPublicKey); err != nil {
		return nil, err
	}
	if err := writeVarBytes(&buf, c.EnvU); err != nil {
		return nil, err
	}
	if err := writeScalar(&buf, c.KU); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCredential(data []byte, formatVersion uint8) (*credential, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil {
		return nil, errBlobShape
	}
	if version != CredentialFormatV0 || formatVersion != CredentialFormatV0 {
		return nil, errBlobVersion
	}
	c := &credential{}
	if c.UserID, err = readVarBytes(r); err != nil {
		return nil, err
	}
	if c.UserPublicKey, err = readPoint(r); err != nil {
		return nil, err
	}
	if c.EnvU, err = readVarBytes(r); err != nil {
		return nil, err
	}
	if c.KU, err = readScalar(r); err != nil {
		return nil, err
	}
	return c, assertDrained(r)
}

func writeVarBytes(buf *bytes.Buffer, b []byte) error {
	if len(b) > 65535 {
		return errBlobShape
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(b))); err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func readVarBytes(r *bytes.Reader) ([]byte, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, errBlobShape
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errBlobShape
	}
	return b, nil
}

func writeScalar(buf *bytes.Buffer, s kyber.Scalar) error {
	b, err := s.MarshalBinary()
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func readScalar(r *bytes.Reader) (kyber.Scalar, error) {
	b := make([]byte, gopaque.CryptoDefault.ScalarLen())
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errBlobShape
	}
	s := gopaque.CryptoDefault.Scalar()
	if err := s.UnmarshalBinary(b); err != nil {
		return nil, errBlobShape
	}
	return s, nil
}

func writePoint(buf *bytes.Buffer, p kyber.Point) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

func readPoint(r *bytes.Reader) (kyber.Point, error) {
	b := make([]byte, gopaque.CryptoDefault.PointLen())
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errBlobShape
	}
	p := gopaque.CryptoDefault.Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return nil, errBlobShape
	}
	return p, nil
}

func assertDrained(r *bytes.Reader) error {
	if r.Len() != 0 {
		return errBlobShape
	}
	return nil
}
