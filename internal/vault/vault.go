package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrKeyUnavailable = errors.New("vault: master key not configured")
	ErrCorrupt        = errors.New("vault: sealed blob corrupt")
)

// Формат блоба: 1 байт версии || nonce || ciphertext(AES-GCM).
const blobVersion byte = 1

// Соль фиксированная: ключ один на процесс, ротация — через Reseal.
var kdfSalt = []byte("virthub-vault-v1")

// Vault запечатывает/распечатывает секреты платформ симметричным ключом,
// выведенным из master key. Чистое преобразование, без I/O.
type Vault struct {
	aead cipher.AEAD
}

// New выводит ключ argon2id из master key. Пустой ключ допустим —
// такой Vault вернёт ErrKeyUnavailable на любой операции.
func New(masterKey string) *Vault {
	if strings.TrimSpace(masterKey) == "" {
		return &Vault{}
	}
	key := argon2.IDKey([]byte(masterKey), kdfSalt, 1, 64*1024, 4, 32)
	block, err := aes.NewCipher(key)
	if err != nil {
		// 32-байтовый ключ всегда валиден для AES-256
		panic(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		panic(err)
	}
	return &Vault{aead: aead}
}

// Ready — ключ сконфигурирован.
func (v *Vault) Ready() bool { return v.aead != nil }

// Seal шифрует plaintext. Вызывающий отвечает за зануление plaintext.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	if v.aead == nil {
		return nil, ErrKeyUnavailable
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}
	blob := make([]byte, 0, 1+len(nonce)+len(plaintext)+v.aead.Overhead())
	blob = append(blob, blobVersion)
	blob = append(blob, nonce...)
	return v.aead.Seal(blob, nonce, plaintext, nil), nil
}

// Unseal расшифровывает blob; целостность проверяется AEAD-тегом.
func (v *Vault) Unseal(blob []byte) ([]byte, error) {
	if v.aead == nil {
		return nil, ErrKeyUnavailable
	}
	ns := v.aead.NonceSize()
	if len(blob) < 1+ns+v.aead.Overhead() {
		return nil, ErrCorrupt
	}
	if blob[0] != blobVersion {
		return nil, fmt.Errorf("%w: unknown version %d", ErrCorrupt, blob[0])
	}
	plaintext, err := v.aead.Open(nil, blob[1:1+ns], blob[1+ns:], nil)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plaintext, nil
}

// Reseal перешифровывает blob под ключ to (ротация ключа).
// Инвентарь и ключи записей не затрагиваются.
func (v *Vault) Reseal(blob []byte, to *Vault) ([]byte, error) {
	plaintext, err := v.Unseal(blob)
	if err != nil {
		return nil, err
	}
	defer Zero(plaintext)
	return to.Seal(plaintext)
}

// Zero затирает секрет в памяти после использования.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
