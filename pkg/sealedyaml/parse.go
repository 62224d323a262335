// Package sealedyaml reads and writes LetsConfide config files (§4.I):
// a plaintext form with an optional "headers" mapping and a required
// "data" mapping, and a sealed form with "headers" plus
// "encryptedData". Both are parsed via gopkg.in/yaml.v3's Node tree so
// duplicate keys, unknown headers and YAML aliases can be rejected
// with a 1-based line number, the way the original implementation's
// hand-rolled event-stream parser does.
package sealedyaml

import (
	"encoding/base64"
	"fmt"
	"io"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/wbibile/LetsConfide/pkg/codec"
	"github.com/wbibile/LetsConfide/pkg/config"
	"github.com/wbibile/LetsConfide/pkg/secrets"
)

// ParsedConfig is the result of parsing a config file: either the
// plaintext entries (IsEncrypted false) or a sealed blob
// (IsEncrypted true), plus the headers governing the device.
type ParsedConfig struct {
	Headers     config.Headers
	IsEncrypted bool
	Entries     []secrets.Entry
	Blob        secrets.EncryptedBlob
}

type mapEntry struct {
	key   *yaml.Node
	value *yaml.Node
}

// Parse reads a config file from r, enforcing the 256 KiB size cap.
func Parse(r io.Reader) (*ParsedConfig, error) {
	var doc yaml.Node
	dec := yaml.NewDecoder(NewLimitedReader(r))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("sealedyaml: %w", err)
	}
	if len(doc.Content) != 1 {
		return nil, parseErr("empty config file", &doc)
	}
	root := doc.Content[0]

	entries, err := mappingEntries(root)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, parseErr("Unexpected end of config file", root)
	}

	idx := 0
	headers := config.Default()
	if entries[idx].key.Value == "headers" {
		headers, err = parseHeaders(entries[idx].value)
		if err != nil {
			return nil, err
		}
		idx++
	}
	if idx >= len(entries) {
		return nil, parseErr("field name 'data' is not defined", root)
	}

	switch entries[idx].key.Value {
	case "data":
		values, err := parseData(entries[idx].value)
		if err != nil {
			return nil, err
		}
		return &ParsedConfig{Headers: headers, Entries: values}, nil
	case "encryptedData":
		blob, err := parseEncryptedData(entries[idx].value)
		if err != nil {
			return nil, err
		}
		return &ParsedConfig{Headers: headers, IsEncrypted: true, Blob: blob}, nil
	default:
		return nil, parseErr("field name 'data' is not defined", entries[idx].key)
	}
}

func mappingEntries(node *yaml.Node) ([]mapEntry, error) {
	if node.Kind == yaml.AliasNode {
		return nil, aliasErr(node)
	}
	if node.Kind != yaml.MappingNode {
		return nil, parseErr("Unexpected entry", node)
	}
	seen := make(map[string]bool, len(node.Content)/2)
	out := make([]mapEntry, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		value := node.Content[i+1]
		if key.Kind == yaml.AliasNode || value.Kind == yaml.AliasNode {
			return nil, aliasErr(key)
		}
		if key.Kind != yaml.ScalarNode {
			return nil, parseErr("Unexpected entry", key)
		}
		if seen[key.Value] {
			return nil, parseErr("Duplicate key", key)
		}
		seen[key.Value] = true
		out = append(out, mapEntry{key: key, value: value})
	}
	return out, nil
}

func parseHeaders(node *yaml.Node) (config.Headers, error) {
	headers := config.Default()
	entries, err := mappingEntries(node)
	if err != nil {
		return config.Headers{}, err
	}
	for _, e := range entries {
		if e.value.Kind != yaml.ScalarNode {
			return config.Headers{}, parseErr("Unexpected entry", e.value)
		}
		switch e.key.Value {
		case "primaryKeyType":
			headers.PrimaryKeyType = config.CipherType(e.value.Value)
		case "storageKeyType":
			headers.StorageKeyType = config.CipherType(e.value.Value)
		case "ephemeralKeyType":
			headers.EphemeralKeyType = config.CipherType(e.value.Value)
		case "pcrSelection":
			n, err := strconv.ParseUint(e.value.Value, 10, 32)
			if err != nil {
				return config.Headers{}, parseErr("Invalid config header", e.key)
			}
			headers.PCRSelection = uint32(n)
		case "pcrHash":
			headers.PCRHash = config.HashType(e.value.Value)
		default:
			return config.Headers{}, parseErr("Invalid config header", e.key)
		}
	}
	if err := headers.Validate(); err != nil {
		return config.Headers{}, parseErr(err.Error(), node)
	}
	return headers, nil
}

func parseData(node *yaml.Node) ([]secrets.Entry, error) {
	entries, err := mappingEntries(node)
	if err != nil {
		return nil, err
	}
	result := make([]secrets.Entry, 0, len(entries))
	for _, e := range entries {
		if e.value.Kind != yaml.ScalarNode {
			return nil, parseErr("Unexpected entry", e.value)
		}
		result = append(result, secrets.Entry{Name: e.key.Value, Value: e.value.Value})
	}
	return result, nil
}

func parseEncryptedData(node *yaml.Node) (secrets.EncryptedBlob, error) {
	entries, err := mappingEntries(node)
	if err != nil {
		return secrets.EncryptedBlob{}, err
	}
	var blob secrets.EncryptedBlob
	var haveSeed, haveKey, haveCipherData, haveTokens bool
	for _, e := range entries {
		bytes, err := readByteArray(e.value)
		if err != nil {
			return secrets.EncryptedBlob{}, err
		}
		switch e.key.Value {
		case "seed":
			blob.Seed = bytes
			haveSeed = true
		case "encryptedKey":
			blob.EncryptedKey = bytes
			haveKey = true
		case "cipherData":
			blob.CipherData = bytes
			haveCipherData = true
		case "deviceTokens":
			tokens, err := codec.Decode(bytes)
			if err != nil {
				return secrets.EncryptedBlob{}, parseErr(fmt.Sprintf("invalid deviceTokens: %v", err), e.key)
			}
			blob.DeviceTokens = tokens
			haveTokens = true
		default:
			return secrets.EncryptedBlob{}, parseErr(fmt.Sprintf("Invalid key %s", e.key.Value), e.key)
		}
	}
	if !haveSeed {
		return secrets.EncryptedBlob{}, parseErr("field name 'seed' is not defined", node)
	}
	if !haveKey {
		return secrets.EncryptedBlob{}, parseErr("field name 'encryptedKey' is not defined", node)
	}
	if !haveCipherData {
		return secrets.EncryptedBlob{}, parseErr("field name 'cipherData' is not defined", node)
	}
	if !haveTokens {
		return secrets.EncryptedBlob{}, parseErr("field name 'deviceTokens' is not defined", node)
	}
	return blob, nil
}

func readByteArray(node *yaml.Node) ([]byte, error) {
	if node.Kind == yaml.AliasNode {
		return nil, aliasErr(node)
	}
	if node.Kind != yaml.SequenceNode {
		return nil, parseErr("Unexpected entry", node)
	}
	var out []byte
	for _, chunk := range node.Content {
		if chunk.Kind == yaml.AliasNode {
			return nil, aliasErr(chunk)
		}
		if chunk.Kind != yaml.ScalarNode {
			return nil, parseErr("Unexpected entry", chunk)
		}
		decoded, err := base64.StdEncoding.DecodeString(chunk.Value)
		if err != nil {
			return nil, parseErr("invalid base64 byte segment", chunk)
		}
		out = append(out, decoded...)
	}
	return out, nil
}

func aliasErr(node *yaml.Node) error {
	return parseErr("Unexpected entry: YAML aliases are not supported", node)
}

func parseErr(message string, node *yaml.Node) error {
	return fmt.Errorf("Error parsing YAML file: %s at line %d", message, node.Line)
}
