package config

import (
	"encoding/hex"
	"fmt"
)

const defaultObfuscationKey = "procbox"

// Obfuscate XOR-masks a value and hex-encodes it so it is not stored in
// plaintext. This is obfuscation, not encryption; secrets belong in a real
// secret store.
func Obfuscate(value, key string) string {
	if value == "" {
		return value
	}
	if key == "" {
		key = defaultObfuscationKey
	}
	masked := make([]byte, len(value))
	for i := 0; i < len(value); i++ {
		masked[i] = value[i] ^ key[i%len(key)]
	}
	return hex.EncodeToString(masked)
}

// Deobfuscate reverses Obfuscate with the same key.
func Deobfuscate(encoded, key string) (string, error) {
	if encoded == "" {
		return encoded, nil
	}
	if key == "" {
		key = defaultObfuscationKey
	}
	masked, err := hex.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode obfuscated value: %w", err)
	}
	plain := make([]byte, len(masked))
	for i := 0; i < len(masked); i++ {
		plain[i] = masked[i] ^ key[i%len(key)]
	}
	return string(plain), nil
}
