package opaque

import (
	"errors"

	"github.com/cretz/gopaque/gopaque"
	"go.dedis.ch/kyber/v3"
)

// KeyPair is the server's long-term OPAQUE keypair. The private scalar is the
// only persisted part; the public point is derived.
type KeyPair struct {
	private kyber.Scalar
	public  kyber.Point
}

// NewKeyPair generates a fresh server keypair from the suite's random stream.
func NewKeyPair() *KeyPair {
	priv := gopaque.CryptoDefault.NewKey(nil)
	return keyPairFromScalar(priv)
}

// KeyPairFromBytes restores a keypair from the marshaled private scalar, as
// produced by Bytes.
func KeyPairFromBytes(b []byte) (*KeyPair, error) {
	if len(b) != gopaque.CryptoDefault.ScalarLen() {
		return nil, errors.New("opaque: invalid private key length")
	}
	priv := gopaque.CryptoDefault.Scalar()
	if err := priv.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return keyPairFromScalar(priv), nil
}

func keyPairFromScalar(priv kyber.Scalar) *KeyPair {
	return &KeyPair{
		private: priv,
		public:  gopaque.CryptoDefault.Point().Mul(priv, nil),
	}
}

// Bytes returns the marshaled private scalar.
func (k *KeyPair) Bytes() ([]byte, error) {
	return k.private.MarshalBinary()
}

// Public returns the server public point.
func (k *KeyPair) Public() kyber.Point { return k.public }

// PublicBytes returns the marshaled server public point.
func (k *KeyPair) PublicBytes() ([]byte, error) {
	return k.public.MarshalBinary()
}
