package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmcleod/tradedesk/internal/util"
	"golang.org/x/crypto/argon2"
)

// Envelope schemes.
const (
	SchemePlain  = "plain-json"
	SchemeSealed = "aes256gcm-argon2id"
)

const (
	envelopeVersion = 1
	nonceSize       = 12
	saltSize        = 16
	keySize         = 32

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// ErrEnvelopeKey is returned when a sealed envelope cannot be opened.
var ErrEnvelopeKey = errors.New("envelope cannot be opened with the configured passphrase")

// Envelope wraps a serialized Record for backends that store opaque blobs.
type Envelope struct {
	Ver     int    `json:"ver"`
	Scheme  string `json:"scheme"`
	Salt    []byte `json:"salt,omitempty"`
	Nonce   []byte `json:"nonce,omitempty"`
	Payload []byte `json:"payload"`
}

// DeriveKey stretches a passphrase into an AES-256 key with Argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, keySize)
}

// SealRecord serializes rec. With an empty passphrase the payload is plain
// JSON; otherwise it is AES-256-GCM encrypted under a fresh salt and nonce.
// aad binds the envelope to its storage location.
func SealRecord(passphrase []byte, rec Record, aad []byte) (*Envelope, error) {
	plain, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	if len(passphrase) == 0 {
		return &Envelope{Ver: envelopeVersion, Scheme: SchemePlain, Payload: plain}, nil
	}
	defer util.WipeBytes(plain)

	salt, err := util.RandomBytes(saltSize)
	if err != nil {
		return nil, err
	}
	nonce, err := util.RandomBytes(nonceSize)
	if err != nil {
		return nil, err
	}
	key := DeriveKey(passphrase, salt)
	defer util.WipeBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		Ver:     envelopeVersion,
		Scheme:  SchemeSealed,
		Salt:    salt,
		Nonce:   nonce,
		Payload: gcm.Seal(nil, nonce, plain, aad),
	}, nil
}

// OpenRecord reverses SealRecord.
func OpenRecord(passphrase []byte, env *Envelope, aad []byte) (Record, error) {
	var rec Record
	if env == nil {
		return rec, ErrNotFound
	}
	if env.Ver != envelopeVersion {
		return rec, fmt.Errorf("unsupported envelope version: %d", env.Ver)
	}

	var plain []byte
	switch env.Scheme {
	case SchemePlain:
		plain = env.Payload
	case SchemeSealed:
		if len(passphrase) == 0 {
			return rec, ErrEnvelopeKey
		}
		key := DeriveKey(passphrase, env.Salt)
		defer util.WipeBytes(key)
		gcm, err := newGCM(key)
		if err != nil {
			return rec, err
		}
		if len(env.Nonce) != gcm.NonceSize() {
			return rec, fmt.Errorf("invalid envelope nonce length %d", len(env.Nonce))
		}
		plain, err = gcm.Open(nil, env.Nonce, env.Payload, aad)
		if err != nil {
			return rec, ErrEnvelopeKey
		}
		defer util.WipeBytes(plain)
	default:
		return rec, fmt.Errorf("unsupported envelope scheme: %s", env.Scheme)
	}

	if err := json.Unmarshal(plain, &rec); err != nil {
		return rec, fmt.Errorf("decoding record: %w", err)
	}
	return rec, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
