package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Ошибки хеширования
var (
	ErrEmptyInput  = errors.New("hash input cannot be empty")
	ErrInvalidHash = errors.New("invalid transaction hash format")
)

// TxHashLength - длина хеша транзакции в hex без префикса 0x
const TxHashLength = 64

// TxHash возвращает детерминированный Keccak-256 хеш частей в формате 0x...
//
// Части разделяются нулевым байтом, поэтому ("ab","c") и ("a","bc") дают разные хеши.
func TxHash(parts ...string) (string, error) {
	if len(parts) == 0 {
		return "", ErrEmptyInput
	}

	h := sha3.NewLegacyKeccak256()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return "0x" + hex.EncodeToString(h.Sum(nil)), nil
}

// RandomTxHash генерирует хеш для переводов без внешнего tx_hash
func RandomTxHash(parts ...string) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return TxHash(append(parts, hex.EncodeToString(nonce))...)
}

// ValidateTxHash проверяет формат 0x + 64 hex символа
func ValidateTxHash(hash string) error {
	if !strings.HasPrefix(hash, "0x") || len(hash) != TxHashLength+2 {
		return ErrInvalidHash
	}
	if _, err := hex.DecodeString(hash[2:]); err != nil {
		return ErrInvalidHash
	}
	return nil
}
