package tpm2

import (
	"fmt"

	gotpm "github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"
	"github.com/wbibile/LetsConfide/pkg/config"
)

// PrimaryKey is the storage-hierarchy AESPrimaryKey or RSAPrimaryKey
// from §4.E: used only as a parent for the persistent storage key.
type PrimaryKey struct {
	gateway *Gateway
	handle  gotpm.TPMHandle
	name    gotpm.TPM2BName
}

// CreatePrimaryKey creates a fresh primary key of the given cipher
// type under the storage hierarchy owner.
func CreatePrimaryKey(gw *Gateway, cipher config.CipherType) (*PrimaryKey, error) {
	var template gotpm.TPMTPublic
	if cipher.IsRSA() {
		template = rsaPrimaryTemplate(rsaBits(cipher))
	} else {
		template = aesPrimaryTemplate(aesBits(cipher))
	}

	var handle gotpm.TPMHandle
	var name gotpm.TPM2BName
	err := gw.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.CreatePrimary{
			PrimaryHandle: gotpm.AuthHandle{
				Handle: gotpm.TPMRHOwner,
				Auth:   gotpm.PasswordAuth(nil),
			},
			InPublic:      gotpm.New2B(template),
			CreationPCR:   primaryPCRSelection(),
			InSensitive:   gotpm.TPM2BSensitiveCreate{},
		}.Execute(t)
		if e != nil {
			return fmt.Errorf("tpm2: create primary failed: %w", e)
		}
		handle = resp.ObjectHandle
		name = resp.Name
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &PrimaryKey{gateway: gw, handle: handle, name: name}, nil
}

// Close flushes the primary key's transient handle.
func (p *PrimaryKey) Close() error {
	return p.gateway.Flush(p.handle)
}

// AESStorageKey is the persistent storage KEK from §4.E: a child of
// PrimaryKey gated by a PCR policy digest, wrapped/unwrapped under a
// fresh policy session on every call.
type AESStorageKey struct {
	gateway *Gateway
	headers config.Headers
	parent  *PrimaryKey
	private gotpm.TPM2BPrivate
	public  gotpm.TPM2B[gotpm.TPMTPublic, *gotpm.TPMTPublic]
}

// Tokens returns the {private-blob, public-blob} pair persisted as the
// EncryptedBlob's deviceTokens.
func (k *AESStorageKey) Tokens() [][]byte {
	return [][]byte{k.private.Buffer, k.public.Bytes()}
}

// NewAESStorageKey creates a brand-new storage key: it opens a PCR
// policy session, reads the resulting policy digest, and embeds it as
// the child template's authPolicy, per §4.E.
func NewAESStorageKey(gw *Gateway, parent *PrimaryKey, headers config.Headers) (*AESStorageKey, error) {
	session, err := OpenPCRPolicySession(gw, headers)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	digest, err := session.Digest()
	if err != nil {
		return nil, err
	}

	template := aesStorageTemplate(aesBits(headers.StorageKeyType), digest)

	var private gotpm.TPM2BPrivate
	var public gotpm.TPM2B[gotpm.TPMTPublic, *gotpm.TPMTPublic]
	err = gw.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.Create{
			ParentHandle: gotpm.AuthHandle{
				Handle: parent.handle,
				Name:   parent.name,
				Auth:   gotpm.PasswordAuth(nil),
			},
			InPublic: gotpm.New2B(template),
		}.Execute(t)
		if e != nil {
			return fmt.Errorf("tpm2: create storage key failed: %w", e)
		}
		private = resp.OutPrivate
		public = resp.OutPublic
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &AESStorageKey{gateway: gw, headers: headers, parent: parent, private: private, public: public}, nil
}

// LoadAESStorageKey reconstitutes a storage key from its persisted
// tokens, as done on every reopen.
func LoadAESStorageKey(gw *Gateway, parent *PrimaryKey, headers config.Headers, tokens [][]byte) (*AESStorageKey, error) {
	if len(tokens) != 2 {
		return nil, ErrInvalidStorageTokens
	}
	return &AESStorageKey{
		gateway: gw,
		headers: headers,
		parent:  parent,
		private: gotpm.TPM2BPrivate{Buffer: tokens[0]},
		public:  gotpm.BytesAs2B[gotpm.TPMTPublic](tokens[1]),
	}, nil
}

// load loads the storage key into a transient handle under a fresh PCR
// policy session, returning both so the caller can use the same
// session as the load-and-use authorization.
func (k *AESStorageKey) load() (gotpm.TPMHandle, gotpm.TPM2BName, *PolicySession, error) {
	session, err := OpenPCRPolicySession(k.gateway, k.headers)
	if err != nil {
		return 0, gotpm.TPM2BName{}, nil, err
	}

	var handle gotpm.TPMHandle
	var name gotpm.TPM2BName
	err = k.gateway.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.Load{
			ParentHandle: gotpm.AuthHandle{
				Handle: k.parent.handle,
				Name:   k.parent.name,
				Auth:   gotpm.PasswordAuth(nil),
			},
			InPrivate: k.private,
			InPublic:  k.public,
		}.Execute(t)
		if e != nil {
			return fmt.Errorf("tpm2: load storage key failed: %w", e)
		}
		handle = resp.ObjectHandle
		name = resp.Name
		return nil
	})
	if err != nil {
		session.Close()
		return 0, gotpm.TPM2BName{}, nil, err
	}
	return handle, name, session, nil
}

// Wrap wraps a 32-byte DEK per §4.F using this storage key.
func (k *AESStorageKey) Wrap(dek []byte) ([]byte, error) {
	return wrapDEK(k, dek)
}

// Unwrap unwraps a wrapped DEK previously produced by Wrap.
func (k *AESStorageKey) Unwrap(wrapped []byte) ([]byte, error) {
	return unwrapDEK(k, wrapped)
}

func (k *AESStorageKey) randomBytes(n int) ([]byte, error) {
	return k.gateway.RandomBytes(n)
}

// cfb performs one TPM2_EncryptDecrypt2 call under a fresh PCR policy
// session, per §4.E's storage-key wrap/unwrap protocol.
func (k *AESStorageKey) cfb(iv, data []byte, decrypt bool) ([]byte, error) {
	handle, name, session, err := k.load()
	if err != nil {
		return nil, err
	}
	defer k.gateway.Flush(handle)
	defer session.Close()

	var out []byte
	err = k.gateway.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.EncryptDecrypt2{
			KeyHandle: gotpm.AuthHandle{
				Handle: handle,
				Name:   name,
				Auth:   session.Session(),
			},
			Message: gotpm.TPM2BMaxBuffer{Buffer: data},
			Decrypt: decrypt,
			Mode:    gotpm.TPMAlgCFB,
			IV:      gotpm.TPM2BIV{Buffer: iv},
		}.Execute(t)
		if e != nil {
			return fmt.Errorf("tpm2: encrypt/decrypt failed: %w", e)
		}
		out = resp.OutData.Buffer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RSAStorageKey is the RSA-OAEP variant of the persistent storage KEK.
// Wrap is a public-key operation and needs no policy session; Unwrap
// is a private-key operation and does.
type RSAStorageKey struct {
	gateway *Gateway
	headers config.Headers
	parent  *PrimaryKey
	private gotpm.TPM2BPrivate
	public  gotpm.TPM2B[gotpm.TPMTPublic, *gotpm.TPMTPublic]
}

// Tokens returns the {private-blob, public-blob} pair.
func (k *RSAStorageKey) Tokens() [][]byte {
	return [][]byte{k.private.Buffer, k.public.Bytes()}
}

// NewRSAStorageKey creates a brand-new RSA storage key.
func NewRSAStorageKey(gw *Gateway, parent *PrimaryKey, headers config.Headers) (*RSAStorageKey, error) {
	session, err := OpenPCRPolicySession(gw, headers)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	digest, err := session.Digest()
	if err != nil {
		return nil, err
	}
	template := rsaStorageTemplate(rsaBits(headers.StorageKeyType), digest)

	var private gotpm.TPM2BPrivate
	var public gotpm.TPM2B[gotpm.TPMTPublic, *gotpm.TPMTPublic]
	err = gw.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.Create{
			ParentHandle: gotpm.AuthHandle{
				Handle: parent.handle,
				Name:   parent.name,
				Auth:   gotpm.PasswordAuth(nil),
			},
			InPublic: gotpm.New2B(template),
		}.Execute(t)
		if e != nil {
			return fmt.Errorf("tpm2: create rsa storage key failed: %w", e)
		}
		private = resp.OutPrivate
		public = resp.OutPublic
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &RSAStorageKey{gateway: gw, headers: headers, parent: parent, private: private, public: public}, nil
}

// LoadRSAStorageKey reconstitutes an RSA storage key from its tokens.
func LoadRSAStorageKey(gw *Gateway, parent *PrimaryKey, headers config.Headers, tokens [][]byte) (*RSAStorageKey, error) {
	if len(tokens) != 2 {
		return nil, ErrInvalidStorageTokens
	}
	return &RSAStorageKey{
		gateway: gw,
		headers: headers,
		parent:  parent,
		private: gotpm.TPM2BPrivate{Buffer: tokens[0]},
		public:  gotpm.BytesAs2B[gotpm.TPMTPublic](tokens[1]),
	}, nil
}

func (k *RSAStorageKey) load(needsPolicy bool) (gotpm.TPMHandle, gotpm.TPM2BName, *PolicySession, error) {
	var session *PolicySession
	var err error
	if needsPolicy {
		session, err = OpenPCRPolicySession(k.gateway, k.headers)
		if err != nil {
			return 0, gotpm.TPM2BName{}, nil, err
		}
	}

	var handle gotpm.TPMHandle
	var name gotpm.TPM2BName
	err = k.gateway.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.Load{
			ParentHandle: gotpm.AuthHandle{
				Handle: k.parent.handle,
				Name:   k.parent.name,
				Auth:   gotpm.PasswordAuth(nil),
			},
			InPrivate: k.private,
			InPublic:  k.public,
		}.Execute(t)
		if e != nil {
			return fmt.Errorf("tpm2: load rsa storage key failed: %w", e)
		}
		handle = resp.ObjectHandle
		name = resp.Name
		return nil
	})
	if err != nil {
		if session != nil {
			session.Close()
		}
		return 0, gotpm.TPM2BName{}, nil, err
	}
	return handle, name, session, nil
}

// Wrap RSA-OAEP encrypts a 32-byte DEK. This is a public-key operation
// and requires no PCR policy session.
func (k *RSAStorageKey) Wrap(dek []byte) ([]byte, error) {
	if len(dek) != 32 {
		return nil, ErrDEKWrongSize
	}
	handle, name, _, err := k.load(false)
	if err != nil {
		return nil, err
	}
	defer k.gateway.Flush(handle)

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
			return fmt.Errorf("tpm2: rsa encrypt failed: %w", e)
		}
		out = resp.OutData.Buffer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Unwrap RSA-OAEP decrypts a wrapped DEK. This is a private-key
// operation and requires a PCR policy session.
func (k *RSAStorageKey) Unwrap(wrapped []byte) ([]byte, error) {
	handle, name, session, err := k.load(true)
	if err != nil {
		return nil, err
	}
	defer k.gateway.Flush(handle)
	defer session.Close()

	var out []byte
	err = k.gateway.Do(func(t transport.TPMCloser) error {
		resp, e := gotpm.RSADecrypt{
			KeyHandle: gotpm.AuthHandle{
				Handle: handle,
				Name:   name,
				Auth:   session.Session(),
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
			return fmt.Errorf("tpm2: rsa decrypt failed: %w", e)
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
