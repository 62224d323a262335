package tpm2

import (
	gotpm "github.com/google/go-tpm/tpm2"
	"github.com/wbibile/LetsConfide/pkg/config"
)

// aesPrimaryTemplate builds the AESPrimaryKey template from §4.E: a
// restricted decrypt-only AES-CFB parent with empty auth/sensitive
// data. The template carries no PCR selection; CreatePrimaryKey passes
// primaryPCRSelection (PCR0 only) as the creation PCR selection. The
// storage key's own PCR gate is what actually protects it.
func aesPrimaryTemplate(bits int) gotpm.TPMTPublic {
	return gotpm.TPMTPublic{
		Type:    gotpm.TPMAlgSymCipher,
		NameAlg: gotpm.TPMAlgSHA256,
		ObjectAttributes: gotpm.TPMAObject{
			Restricted:          true,
			Decrypt:             true,
			FixedTPM:            true,
			FixedParent:         true,
			UserWithAuth:        true,
			SensitiveDataOrigin: true,
		},
		Parameters: gotpm.NewTPMUPublicParms(
			gotpm.TPMAlgSymCipher,
			&gotpm.TPMSSymCipherParms{
				Sym: gotpm.TPMTSymDefObject{
					Algorithm: gotpm.TPMAlgAES,
					KeyBits:   gotpm.NewTPMUSymKeyBits(gotpm.TPMAlgAES, gotpm.TPMKeyBits(bits)),
					Mode:      gotpm.NewTPMUSymMode(gotpm.TPMAlgAES, gotpm.TPMAlgCFB),
				},
			},
		),
	}
}

// rsaPrimaryTemplate builds the RSAPrimaryKey template from §4.E: a
// restricted decrypt-only parent with AES-128-CFB parameter
// encryption, null scheme, and the standard 65537 exponent.
func rsaPrimaryTemplate(bits int) gotpm.TPMTPublic {
	return gotpm.TPMTPublic{
		Type:    gotpm.TPMAlgRSA,
		NameAlg: gotpm.TPMAlgSHA256,
		ObjectAttributes: gotpm.TPMAObject{
			Restricted:          true,
			Decrypt:             true,
			FixedTPM:            true,
			FixedParent:         true,
			UserWithAuth:        true,
			NoDA:                true,
			SensitiveDataOrigin: true,
		},
		Parameters: gotpm.NewTPMUPublicParms(
			gotpm.TPMAlgRSA,
			&gotpm.TPMSRSAParms{
				Symmetric: gotpm.TPMTSymDefObject{
					Algorithm: gotpm.TPMAlgAES,
					KeyBits:   gotpm.NewTPMUSymKeyBits(gotpm.TPMAlgAES, gotpm.TPMKeyBits(128)),
					Mode:      gotpm.NewTPMUSymMode(gotpm.TPMAlgAES, gotpm.TPMAlgCFB),
				},
				Scheme:  gotpm.TPMTRSAScheme{Scheme: gotpm.TPMAlgNull},
				KeyBits: gotpm.TPMKeyBits(bits),
			},
		),
	}
}

// aesStorageTemplate builds the AESStorageKey template from §4.E: an
// encrypt/decrypt AES-CFB child whose authorization is entirely the
// PCR policy digest (authPolicy), with no password authorization.
func aesStorageTemplate(bits int, authPolicy gotpm.TPM2BDigest) gotpm.TPMTPublic {
	return gotpm.TPMTPublic{
		Type:       gotpm.TPMAlgSymCipher,
		NameAlg:    gotpm.TPMAlgSHA256,
		AuthPolicy: authPolicy,
		ObjectAttributes: gotpm.TPMAObject{
			Decrypt:             true,
			SignEncrypt:         true,
			FixedTPM:            true,
			FixedParent:         true,
			SensitiveDataOrigin: true,
		},
		Parameters: gotpm.NewTPMUPublicParms(
			gotpm.TPMAlgSymCipher,
			&gotpm.TPMSSymCipherParms{
				Sym: gotpm.TPMTSymDefObject{
					Algorithm: gotpm.TPMAlgAES,
					KeyBits:   gotpm.NewTPMUSymKeyBits(gotpm.TPMAlgAES, gotpm.TPMKeyBits(bits)),
					Mode:      gotpm.NewTPMUSymMode(gotpm.TPMAlgAES, gotpm.TPMAlgCFB),
				},
			},
		),
	}
}

// rsaStorageTemplate builds the RSAStorageKey template from §4.E:
// RSA-OAEP(SHA256), gated by the same PCR authPolicy as the AES
// variant.
func rsaStorageTemplate(bits int, authPolicy gotpm.TPM2BDigest) gotpm.TPMTPublic {
	return gotpm.TPMTPublic{
		Type:       gotpm.TPMAlgRSA,
		NameAlg:    gotpm.TPMAlgSHA256,
		AuthPolicy: authPolicy,
		ObjectAttributes: gotpm.TPMAObject{
			Decrypt:             true,
			FixedTPM:            true,
			FixedParent:         true,
			SensitiveDataOrigin: true,
		},
		Parameters: gotpm.NewTPMUPublicParms(
			gotpm.TPMAlgRSA,
			&gotpm.TPMSRSAParms{
				Scheme: gotpm.TPMTRSAScheme{
					Scheme: gotpm.TPMAlgOAEP,
					Details: gotpm.NewTPMUAsymScheme(
						gotpm.TPMAlgOAEP,
						&gotpm.TPMSEncSchemeOAEP{HashAlg: gotpm.TPMAlgSHA256},
					),
				},
				KeyBits: gotpm.TPMKeyBits(bits),
			},
		),
	}
}

// aesEphemeralTemplate builds the AESEphemeralKey primary template from
// §4.E: a null-hierarchy encrypt/decrypt AES-CFB key authorized by a
// user auth value rather than a PCR policy.
func aesEphemeralTemplate(bits int) gotpm.TPMTPublic {
	return gotpm.TPMTPublic{
		Type:    gotpm.TPMAlgSymCipher,
		NameAlg: gotpm.TPMAlgSHA256,
		ObjectAttributes: gotpm.TPMAObject{
			Decrypt:      true,
			SignEncrypt:  true,
			FixedTPM:     true,
			FixedParent:  true,
			UserWithAuth: true,
		},
		Parameters: gotpm.NewTPMUPublicParms(
			gotpm.TPMAlgSymCipher,
			&gotpm.TPMSSymCipherParms{
				Sym: gotpm.TPMTSymDefObject{
					Algorithm: gotpm.TPMAlgAES,
					KeyBits:   gotpm.NewTPMUSymKeyBits(gotpm.TPMAlgAES, gotpm.TPMKeyBits(bits)),
					Mode:      gotpm.NewTPMUSymMode(gotpm.TPMAlgAES, gotpm.TPMAlgCFB),
				},
			},
		),
	}
}

// rsaEphemeralTemplate builds the RSAEphemeralKey primary template.
func rsaEphemeralTemplate(bits int) gotpm.TPMTPublic {
	return gotpm.TPMTPublic{
		Type:    gotpm.TPMAlgRSA,
		NameAlg: gotpm.TPMAlgSHA256,
		ObjectAttributes: gotpm.TPMAObject{
			Decrypt:      true,
			FixedTPM:     true,
			FixedParent:  true,
			UserWithAuth: true,
		},
		Parameters: gotpm.NewTPMUPublicParms(
			gotpm.TPMAlgRSA,
			&gotpm.TPMSRSAParms{
				Scheme: gotpm.TPMTRSAScheme{
					Scheme: gotpm.TPMAlgOAEP,
					Details: gotpm.NewTPMUAsymScheme(
						gotpm.TPMAlgOAEP,
						&gotpm.TPMSEncSchemeOAEP{HashAlg: gotpm.TPMAlgSHA256},
					),
				},
				KeyBits: gotpm.TPMKeyBits(bits),
			},
		),
	}
}

// primaryPCRSelection is the fixed {SHA256, {1,0,0}} selection
// CreatePrimaryKey passes as CreatePrimary's creation PCR selection for
// every primary key, AES or RSA (PCR0 only; it is not an authorization
// gate).
func primaryPCRSelection() gotpm.TPMLPCRSelection {
	return gotpm.TPMLPCRSelection{
		PCRSelections: []gotpm.TPMSPCRSelection{{
			Hash:      gotpm.TPMAlgSHA256,
			PCRSelect: []byte{1, 0, 0},
		}},
	}
}

func aesBits(c config.CipherType) int {
	if c.Bits() == 0 {
		return 256
	}
	return c.Bits()
}

func rsaBits(c config.CipherType) int {
	if c.Bits() == 0 {
		return 2048
	}
	return c.Bits()
}
