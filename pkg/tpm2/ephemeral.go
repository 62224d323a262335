package tpm2

import (
	"fmt"

	gotpm "github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/wbibile/LetsConfide/pkg/config"
)

// AESEphemeralKey is the null-hierarchy KEK from §4.E. It is created
// with a caller-supplied {authValue, secretData} sensitive area rather
// than TPM-generated entropy, so the exact same key is recreated from
// the same tokens on every process run.
type AESEphemeralKey struct {
	gateway *Gateway
	bits    int
	iv      []byte
	tokens  [][]byte // {iv, authValue, secretData}
}

// NewAESEphemeralKey draws fresh tokens (16-byte iv, 32-byte
// authValue, keySize/8-byte secretData) and creates the corresponding
// primary key in the null hierarchy.
func NewAESEphemeralKey(gw *Gateway, cipher config.CipherType) (*AESEphemeralKey, error) {
	bits := aesBits(cipher)
	iv, err := gw.RandomBytes(16)
	if err != nil {
		return nil, err
	}
	authValue, err := gw.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	secretData, err := gw.RandomBytes(bits / 8)
	if err != nil {
		return nil, err
	}
	return &AESEphemeralKey{
		gateway: gw,
		bits:    bits,
		iv:      iv,
		tokens:  [][]byte{iv, authValue, secretData},
	}, nil
}

// LoadAESEphemeralKey reconstitutes an ephemeral key from its 3-token
// list. Same tokens always yield the same TPM key.
func LoadAESEphemeralKey(gw *Gateway, cipher config.CipherType, tokens [][]byte) (*AESEphemeralKey, error) {
	if len(tokens) != 3 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEphemeralTokens, len(tokens))
	}
	return &AESEphemeralKey{gateway: gw, bits: aesBits(cipher), iv: tokens[0], tokens: tokens}, nil
}

// Tokens returns {iv, authValue, secretData}. These are never
// persisted to the on-disk EncryptedBlob; they live only for the
// process's lifetime.
func (k *AESEphemeralKey) Tokens() [][]byte {
	return k.tokens
}

func (k *AESEphemeralKey) authValue() []byte  { return k.tokens[1] }
func (k *AESEphemeralKey) secretData() []byte { return k.tokens[2] }

// createLoaded creates the ephemeral primary under TPM_RH_NULL for the
// duration of one wrap/unwrap call, returning a flush func.
func (k *AESEphemeralKey) createLoaded() (gotpm.TPMHandle, gotpm.TPM2BName, func(), error) {
	template := aesEphemeralTemplate(k.bits)
	var handle gotpm.TPMHandle
	var name gotpm.TPM2BName
	err := k.gateway.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.CreatePrimary{
			PrimaryHandle: gotpm.AuthHandle{
				Handle: gotpm.TPMRHNull,
				Auth:   gotpm.PasswordAuth(nil),
			},
			InPublic: gotpm.New2B(template),
			InSensitive: gotpm.TPM2BSensitiveCreate{
				Sensitive: &gotpm.TPMSSensitiveCreate{
					UserAuth: gotpm.TPM2BAuth{Buffer: k.authValue()},
					Data:     gotpm.NewTPMUSensitiveCreate(&gotpm.TPM2BSensitiveData{Buffer: k.secretData()}),
				},
			},
		}.Execute(t)
		if e != nil {
			return fmt.Errorf("tpm2: create ephemeral key failed: %w", e)
		}
		handle = resp.ObjectHandle
		name = resp.Name
		return nil
	})
	if err != nil {
		return 0, gotpm.TPM2BName{}, nil, err
	}
	flush := func() { k.gateway.Flush(handle) }
	return handle, name, flush, nil
}

// Wrap wraps a 32-byte DEK per §4.F. No PCR policy session is needed:
// the ephemeral key's authorization is its user auth value.
func (k *AESEphemeralKey) Wrap(dek []byte) ([]byte, error) {
	return wrapDEK(k, dek)
}

// Unwrap unwraps a previously-wrapped DEK.
func (k *AESEphemeralKey) Unwrap(wrapped []byte) ([]byte, error) {
	return unwrapDEK(k, wrapped)
}

func (k *AESEphemeralKey) randomBytes(n int) ([]byte, error) {
	return k.gateway.RandomBytes(n)
}

func (k *AESEphemeralKey) cfb(iv, data []byte, decrypt bool) ([]byte, error) {
	handle, name, flush, err := k.createLoaded()
	if err != nil {
		return nil, err
	}
	defer flush()

	var out []byte
	err = k.gateway.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.EncryptDecrypt2{
			KeyHandle: gotpm.AuthHandle{
				Handle: handle,
				Name:   name,
				Auth:   gotpm.PasswordAuth(k.authValue()),
			},
			Message: gotpm.TPM2BMaxBuffer{Buffer: data},
			Decrypt: decrypt,
			Mode:    gotpm.TPMAlgCFB,
			IV:      gotpm.TPM2BIV{Buffer: iv},
		}.Execute(t)
		if e != nil {
			return fmt.Errorf("tpm2: ephemeral encrypt/decrypt failed: %w", e)
		}
		out = resp.OutData.Buffer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RSAEphemeralKey is the RSA-OAEP variant of AESEphemeralKey.
type RSAEphemeralKey struct {
	gateway *Gateway
	bits    int
	tokens  [][]byte // {authValue, secretData}
}

// NewRSAEphemeralKey draws fresh {authValue, secretData} tokens, both
// 32 bytes.
func NewRSAEphemeralKey(gw *Gateway, cipher config.CipherType) (*RSAEphemeralKey, error) {
	authValue, err := gw.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	secretData, err := gw.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	return &RSAEphemeralKey{gateway: gw, bits: rsaBits(cipher), tokens: [][]byte{authValue, secretData}}, nil
}

// LoadRSAEphemeralKey reconstitutes an ephemeral RSA key from its
// 2-token list.
func LoadRSAEphemeralKey(gw *Gateway, cipher config.CipherType, tokens [][]byte) (*RSAEphemeralKey, error) {
	if len(tokens) != 2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidEphemeralTokens, len(tokens))
	}
	return &RSAEphemeralKey{gateway: gw, bits: rsaBits(cipher), tokens: tokens}, nil
}

// Tokens returns {authValue, secretData}.
func (k *RSAEphemeralKey) Tokens() [][]byte { return k.tokens }

func (k *RSAEphemeralKey) createLoaded() (gotpm.TPMHandle, gotpm.TPM2BName, func(), error) {
	template := rsaEphemeralTemplate(k.bits)
	var handle gotpm.TPMHandle
	var name gotpm.TPM2BName
	err := k.gateway.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.CreatePrimary{
			PrimaryHandle: gotpm.AuthHandle{
				Handle: gotpm.TPMRHNull,
				Auth:   gotpm.PasswordAuth(nil),
			},
			InPublic: gotpm.New2B(template),
			InSensitive: gotpm.TPM2BSensitiveCreate{
				Sensitive: &gotpm.TPMSSensitiveCreate{
					UserAuth: gotpm.TPM2BAuth{Buffer: k.tokens[0]},
					Data:     gotpm.NewTPMUSensitiveCreate(&gotpm.TPM2BSensitiveData{Buffer: k.tokens[1]}),
				},
			},
		}.Execute(t)
		if e != nil {
			return fmt.Errorf("tpm2: create rsa ephemeral key failed: %w", e)
		}
		handle = resp.ObjectHandle
		name = resp.Name
		return nil
	})
	if err != nil {
		return 0, gotpm.TPM2BName{}, nil, err
	}
	return handle, name, func() { k.gateway.Flush(handle) }, nil
}

// Wrap RSA-OAEP encrypts a 32-byte DEK.
func (k *RSAEphemeralKey) Wrap(dek []byte) ([]byte, error) {
	if len(dek) != 32 {
		return nil, ErrDEKWrongSize
	}
	handle, name, flush, err := k.createLoaded()
	if err != nil {
		return nil, err
	}
	defer flush()

	var out []byte
	err = k.gateway.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.RSAEncrypt{
			KeyHandle: gotpm.NamedHandle{Handle: handle, Name: name},
			Message:   gotpm.TPM2BPublicKeyRSA{Buffer: dek},
			InScheme: gotpm.TPMTRSADecrypt{
				Scheme: gotpm.TPMAlgOAEP,
				Details: gotpm.NewTPMUAsymScheme(
					gotpm.TPMAlgOAEP,
					&gotpm.TPMSEncSchemeOAEP{HashAlg: gotpm.TPMAlgSHA256},
				),
			},
		}.Execute(t)
		if e != nil {
			return fmt.Errorf("tpm2: rsa ephemeral encrypt failed: %w", e)
		}
		out = resp.OutData.Buffer
		return nil
	})
	return out, err
}

// Unwrap RSA-OAEP decrypts a wrapped DEK.
func (k *RSAEphemeralKey) Unwrap(wrapped []byte) ([]byte, error) {
	handle, name, flush, err := k.createLoaded()
	if err != nil {
		return nil, err
	}
	defer flush()

	var out []byte
	err = k.gateway.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.RSADecrypt{
			KeyHandle: gotpm.AuthHandle{
				Handle: handle,
				Name:   name,
				Auth:   gotpm.PasswordAuth(k.tokens[0]),
			},
			CipherText: gotpm.TPM2BPublicKeyRSA{Buffer: wrapped},
			InScheme: gotpm.TPMTRSADecrypt{
				Scheme: gotpm.TPMAlgOAEP,
				Details: gotpm.NewTPMUAsymScheme(
					gotpm.TPMAlgOAEP,
					&gotpm.TPMSEncSchemeOAEP{HashAlg: gotpm.TPMAlgSHA256},
				),
			},
		}.Execute(t)
		if e != nil {
			return fmt.Errorf("tpm2: rsa ephemeral decrypt failed: %w", e)
		}
		out = resp.Message.Buffer
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) != 32 {
		return nil, ErrUnwrapLengthMismatch
	}
	return out, nil
}
