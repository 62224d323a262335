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

// byteChunkSize is the size of each base64-encoded YAML sequence
// element a byte array is split into when serialized.
const byteChunkSize = 32

// WriteSealed writes headers and blob to w as a sealed config file:
// a "headers" mapping followed by an "encryptedData" mapping whose
// byte arrays are chunked into base64-encoded 32-byte segments.
func WriteSealed(w io.Writer, headers config.Headers, blob secrets.EncryptedBlob) error {
	deviceTokens, err := codec.Encode(blob.DeviceTokens)
	if err != nil {
		return fmt.Errorf("sealedyaml: encode device tokens: %w", err)
	}

	root := mappingNode(
		scalar("headers"), headersNode(headers),
		scalar("encryptedData"), mappingNode(
			scalar("seed"), byteArrayNode(blob.Seed),
			scalar("encryptedKey"), byteArrayNode(blob.EncryptedKey),
			scalar("cipherData"), byteArrayNode(blob.CipherData),
			scalar("deviceTokens"), byteArrayNode(deviceTokens),
		),
	)

	doc := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{root}}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("sealedyaml: encode: %w", err)
	}
	return nil
}

func headersNode(h config.Headers) *yaml.Node {
	return mappingNode(
		scalar("primaryKeyType"), scalar(string(h.PrimaryKeyType)),
		scalar("storageKeyType"), scalar(string(h.StorageKeyType)),
		scalar("ephemeralKeyType"), scalar(string(h.EphemeralKeyType)),
		scalar("pcrSelection"), scalar(strconv.FormatUint(uint64(h.PCRSelection), 10)),
		scalar("pcrHash"), scalar(string(h.PCRHash)),
	)
}

func byteArrayNode(data []byte) *yaml.Node {
	node := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for i := 0; i < len(data); i += byteChunkSize {
		end := i + byteChunkSize
		if end > len(data) {
			end = len(data)
		}
		node.Content = append(node.Content, scalar(base64.StdEncoding.EncodeToString(data[i:end])))
	}
	return node
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

func mappingNode(kv ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Content: kv}
}
