package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Codec transforms the serialized session on its way to and from storage.
type Codec interface {
	Encode(ctx context.Context, plain []byte) ([]byte, error)
	Decode(ctx context.Context, stored []byte) ([]byte, error)
}

// PlainCodec stores the session JSON as-is.
type PlainCodec struct{}

func (PlainCodec) Encode(_ context.Context, plain []byte) ([]byte, error) {
	return plain, nil
}

func (PlainCodec) Decode(_ context.Context, stored []byte) ([]byte, error) {
	return stored, nil
}

// kmsPrefix marks an encrypted session so it can be told apart from a plain
// one written before encryption was enabled.
const kmsPrefix = "kms:"

// KMSAPI is the subset of the KMS client used by KMSCodec.
type KMSAPI interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSCodec encrypts the session at rest with an AWS KMS symmetric key. The
// storage key is bound to the ciphertext as encryption context.
type KMSCodec struct {
	client KMSAPI
	keyID  string
}

func NewKMSCodec(client KMSAPI, keyID string) *KMSCodec {
	return &KMSCodec{client: client, keyID: keyID}
}

// NewKMSCodecFromConfig creates a codec using the default AWS configuration
// chain.
func NewKMSCodecFromConfig(ctx context.Context, keyID string) (*KMSCodec, error) {
	if keyID == "" {
		return nil, errors.New("KMS key ID must be specified")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewKMSCodec(kms.NewFromConfig(cfg), keyID), nil
}

func (c *KMSCodec) encryptionContext() map[string]string {
	return map[string]string{"opsdesk:storage-key": StorageKey}
}

func (c *KMSCodec) Encode(ctx context.Context, plain []byte) ([]byte, error) {
	out, err := c.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(c.keyID),
		Plaintext:         plain,
		EncryptionContext: c.encryptionContext(),
	})
	if err != nil {
		return nil, fmt.Errorf("KMS encrypt failed: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(out.CiphertextBlob)
	return []byte(kmsPrefix + encoded), nil
}

func (c *KMSCodec) Decode(ctx context.Context, stored []byte) ([]byte, error) {
	encoded, found := bytes.CutPrefix(stored, []byte(kmsPrefix))
	if !found {
		return nil, fmt.Errorf("%w: missing %q prefix: session may be unencrypted", ErrCorrupt, kmsPrefix)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode failed: %w", ErrCorrupt, err)
	}

	out, err := c.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(c.keyID),
		CiphertextBlob:    ciphertext,
		EncryptionContext: c.encryptionContext(),
	})
	if err != nil {
		return nil, fmt.Errorf("KMS decrypt failed: %w", err)
	}

	return out.Plaintext, nil
}
