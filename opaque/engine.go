package opaque

import (
	"bytes"
	"crypto/hmac"
	"errors"
	"fmt"

	"github.com/cretz/gopaque/gopaque"
	"go.dedis.ch/kyber/v3"
)

// dummyPassword seeds the synthetic credential served for unknown accounts.
// Its value is irrelevant; no client knows it, so the resulting login exchange
// can only ever fail at finalization.
var dummyPassword = []byte("123")

var (
	// ErrProtocol is returned when a client message fails to parse or the
	// exchange fails cryptographic verification.
	ErrProtocol = errors.New("opaque: protocol failure")
	// ErrUserIDMismatch is returned when a client message names a different
	// user than the credential it is exchanged against.
	ErrUserIDMismatch = errors.New("opaque: user id mismatch")
)

// Engine executes the server side of the OPAQUE exchange with a long-term
// keypair. It is stateless; all per-handshake state is returned to the caller
// as serialized blobs.
type Engine struct {
	crypto gopaque.Crypto
	key    *KeyPair
}

// NewEngine returns an Engine using the gopaque default crypto suite.
func NewEngine(key *KeyPair) *Engine {
	return &Engine{crypto: gopaque.CryptoDefault, key: key}
}

// RegistrationStart consumes the client's registration init message and
// returns the serialized server state and the response message for the client.
func (e *Engine) RegistrationStart(clientMessage []byte) (state, response []byte, err error) {
	var userInit gopaque.UserRegisterInit
	if err := userInit.FromBytes(e.crypto, clientMessage); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	kU := e.crypto.Scalar().Pick(e.crypto.RandomStream())
	v, beta := gopaque.OPRFServerStep2(e.crypto, userInit.Alpha, kU)

	serverInit := &gopaque.ServerRegisterInit{ServerPublicKey: e.key.Public(), V: v, Beta: beta}
	if response, err = serverInit.ToBytes(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if state, err = encodeRegistrationState(&registrationState{UserID: userInit.UserID, KU: kU}); err != nil {
		return nil, nil, err
	}
	return state, response, nil
}

// RegistrationFinish consumes the client's final registration message against
// the stored server state and returns the durable credential file.
func (e *Engine) RegistrationFinish(state, clientMessage []byte) ([]byte, error) {
	st, err := decodeRegistrationState(state)
	if err != nil {
		return nil, err
	}
	var userComplete gopaque.UserRegisterComplete
	if err := userComplete.FromBytes(e.crypto, clientMessage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return encodeCredential(&credential{
		UserID:        st.UserID,
		UserPublicKey: userComplete.UserPublicKey,
		EnvU:          userComplete.EnvU,
		KU:            st.KU,
	})
}

// LoginStart consumes the client's auth init message against a credential file
// and returns the serialized server state and the response message. The
// response embeds the second SIGMA key-exchange message, so its size depends
// only on the suite, never on whether the credential is real or synthetic.
func (e *Engine) LoginStart(credentialFile, clientMessage []byte, username string, formatVersion uint8) (state, response []byte, err error) {
	cred, err := decodeCredential(credentialFile, formatVersion)
	if err != nil {
		return nil, nil, err
	}
	var userInit gopaque.UserAuthInit
	if err := userInit.FromBytes(e.crypto, clientMessage); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if !bytes.Equal(userInit.UserID, cred.UserID) || !bytes.Equal(userInit.UserID, []byte(username)) {
		return nil, nil, ErrUserIDMismatch
	}
	if len(userInit.EmbeddedKeyExchangeMessage1) == 0 {
		return nil, nil, fmt.Errorf("%w: missing key exchange message", ErrProtocol)
	}
	var ke1 gopaque.KeyExchangeSigmaMsg1
	if err := ke1.FromBytes(e.crypto, userInit.EmbeddedKeyExchangeMessage1); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	v, beta := gopaque.OPRFServerStep2(e.crypto, userInit.Alpha, cred.KU)

	// SIGMA step 2: fresh ephemeral, DH secret, signature over both ephemeral
	// keys, MAC over the server's persistent public key.
	y := e.crypto.NewKey(nil)
	gY := e.crypto.Point().Mul(y, nil)
	shared := e.crypto.Point().Mul(y, ke1.UserExchangePublicKey)

	digest, err := exchangeDigest(e.crypto, ke1.UserExchangePublicKey, gY)
	if err != nil {
		return nil, nil, err
	}
	sig, err := e.crypto.Sign(e.key.private, digest)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	mac, err := exchangeMac(e.crypto, shared, e.key.Public())
	if err != nil {
		return nil, nil, err
	}

	ke2 := &gopaque.KeyExchangeSigmaMsg2{ServerExchangePublicKey: gY, ServerExchangeSig: sig, ServerExchangeMac: mac}
	ke2Bytes, err := ke2.ToBytes()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	serverComplete := &gopaque.ServerAuthComplete{
		ServerPublicKey:             e.key.Public(),
		EnvU:                        cred.EnvU,
		V:                           v,
		Beta:                        beta,
		EmbeddedKeyExchangeMessage2: ke2Bytes,
	}
	if response, err = serverComplete.ToBytes(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	state, err = encodeLoginState(&loginState{
		UserID:          cred.UserID,
		UserPublicKey:   cred.UserPublicKey,
		UserExchangeKey: ke1.UserExchangePublicKey,
		ServerExchange:  gY,
		SharedSecret:    shared,
	})
	if err != nil {
		return nil, nil, err
	}
	return state, response, nil
}

// LoginFinish verifies the client's final SIGMA message against the stored
// server state and, on success, returns the derived session key.
func (e *Engine) LoginFinish(state, clientMessage []byte) ([]byte, error) {
	st, err := decodeLoginState(state)
	if err != nil {
		return nil, err
	}
	var userComplete gopaque.UserAuthComplete
	if err := userComplete.FromBytes(e.crypto, clientMessage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	var ke3 gopaque.KeyExchangeSigmaMsg3
	if err := ke3.FromBytes(e.crypto, userComplete.EmbeddedKeyExchangeMessage3); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	digest, err := exchangeDigest(e.crypto, st.UserExchangeKey, st.ServerExchange)
	if err != nil {
		return nil, err
	}
	if err := e.crypto.Verify(st.UserPublicKey, digest, ke3.UserExchangeSig); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	expectedMac, err := exchangeMac(e.crypto, st.SharedSecret, st.UserPublicKey)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(ke3.UserExchangeMac, expectedMac) {
		return nil, fmt.Errorf("%w: mac mismatch", ErrProtocol)
	}
	return sessionKey(e.crypto, st.SharedSecret)
}

// DummyCredential builds a well-formed credential file for a username that has
// none, by running a complete registration against a fixed placeholder
// password. Byte-for-byte it has the same shape as a real credential, so the
// login exchange built on it is indistinguishable until finalization fails.
func (e *Engine) DummyCredential(username string) ([]byte, error) {
	userID := []byte(username)
	user := gopaque.NewUserRegister(e.crypto, userID, nil)
	userInit := user.Init(dummyPassword)

	kU := e.crypto.Scalar().Pick(e.crypto.RandomStream())
	v, beta := gopaque.OPRFServerStep2(e.crypto, userInit.Alpha, kU)
	serverInit := &gopaque.ServerRegisterInit{ServerPublicKey: e.key.Public(), V: v, Beta: beta}

	userComplete := user.Complete(serverInit)
	return encodeCredential(&credential{
		UserID:        userID,
		UserPublicKey: userComplete.UserPublicKey,
		EnvU:          userComplete.EnvU,
		KU:            kU,
	})
}

// exchangeDigest hashes the two ephemeral exchange keys in SIGMA order:
// client's first, server's second. Both sides sign and verify this digest.
func exchangeDigest(c gopaque.Crypto, userExchange, serverExchange kyber.Point) ([]byte, error) {
	h := c.Hash()
	ub, err := userExchange.MarshalBinary()
	if err != nil {
		return nil, err
	}
	sb, err := serverExchange.MarshalBinary()
	if err != nil {
		return nil, err
	}
	h.Write(ub)
	h.Write(sb)
	return h.Sum(nil), nil
}

// exchangeMac computes the SIGMA identity MAC over a persistent public key.
// The key derivation chain must stay aligned with gopaque's KeyExchangeSigma
// or its client side stops verifying.
func exchangeMac(c gopaque.Crypto, sharedSecret, identity kyber.Point) ([]byte, error) {
	macKey, err := deriveFromShared(c, sharedSecret, "sigma-mac")
	if err != nil {
		return nil, err
	}
	idBytes, err := identity.MarshalBinary()
	if err != nil {
		return nil, err
	}
	h := hmac.New(c.Hash, macKey)
	h.Write(idBytes)
	return h.Sum(nil), nil
}

// sessionKey derives the raw session key from the SIGMA shared secret.
func sessionKey(c gopaque.Crypto, sharedSecret kyber.Point) ([]byte, error) {
	return deriveFromShared(c, sharedSecret, "session-key")
}

func deriveFromShared(c gopaque.Crypto, sharedSecret kyber.Point, info string) ([]byte, error) {
	sb, err := sharedSecret.MarshalBinary()
	if err != nil {
		return nil, err
	}
	parent := c.NewKeyFromReader(bytes.NewReader(sb))
	derived := c.DeriveKey(parent, []byte(info))
	return derived.MarshalBinary()
}
