package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const (
	secretBoxEnvVar   = "SECRETBOX_MASTER_KEY"
	nonceSizeGCM      = 12  // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)
)

// ErrMasterKeyUnavailable indica que la clave maestra no está configurada o es inválida.
// Los callers deben tratarlo como error de configuración (5xx), nunca como 401.
var ErrMasterKeyUnavailable = errors.New("secretbox: master key unavailable")

// ErrDecryption indica ciphertext malformado o fallo de autenticación GCM.
// También es fatal para el request: sin secretos no hay operación de tenant posible.
var ErrDecryption = errors.New("secretbox: decryption failed")

// IsDecryptionError reporta si err corresponde a un fallo del vault
// (clave ausente o ciphertext irrecuperable).
func IsDecryptionError(err error) bool {
	return errors.Is(err, ErrDecryption) || errors.Is(err, ErrMasterKeyUnavailable)
}

var (
	masterKey     []byte
	masterKeyOnce sync.Once
	loadErr       error
	mu            sync.RWMutex
)

// ensureLoaded carga la clave maestra desde SECRETBOX_MASTER_KEY (base64) una sola vez.
func ensureLoaded() error {
	masterKeyOnce.Do(func() {
		kb64 := strings.TrimSpace(os.Getenv(secretBoxEnvVar))
		if kb64 == "" {
			loadErr = fmt.Errorf("%w: %s no seteada; genere una clave con: openssl rand -base64 32", ErrMasterKeyUnavailable, secretBoxEnvVar)
			return
		}
		k, err := base64.StdEncoding.DecodeString(kb64)
		if err != nil {
			loadErr = fmt.Errorf("%w: decode %s: %v", ErrMasterKeyUnavailable, secretBoxEnvVar, err)
			return
		}
		if len(k) != requiredKeyLength {
			loadErr = fmt.Errorf("%w: %s debe decodificar a %d bytes, obtuvo %d", ErrMasterKeyUnavailable, secretBoxEnvVar, requiredKeyLength, len(k))
			return
		}
		mu.Lock()
		masterKey = make([]byte, len(k))
		copy(masterKey, k)
		mu.Unlock()
	})
	return loadErr
}

// Ready expone si la clave está cargada (útil para readyz/config print).
func Ready() bool {
	mu.RLock()
	defer mu.RUnlock()
	return len(masterKey) == requiredKeyLength
}

// Encrypt cifra plainText y devuelve base64(nonce)|base64(ciphertext).
// Sólo lo usan las herramientas administrativas (vendhubctl, seed); el
// data-plane únicamente descifra.
func Encrypt(plainText string) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}

	aesgcm, err := newGCM(snapshotKey())
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}

	ct := aesgcm.Seal(nil, nonce, []byte(plainText), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt recibe base64(nonce)|base64(ciphertext) y devuelve el texto plano.
// Determinístico y sin efectos secundarios; el resultado vive sólo en memoria
// del caller, jamás se persiste.
func Decrypt(cipherText string) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	return decryptWith(snapshotKey(), cipherText)
}

// DecryptWithKey descifra con una clave explícita (base64, hex o raw 32 bytes).
// Lo usan los tooling paths donde la clave llega por flag en vez de env.
func DecryptWithKey(key string, cipherText string) (string, error) {
	key = strings.TrimSpace(key)
	var kBytes []byte
	decoded := false

	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		kBytes = b
		decoded = true
	}
	if !decoded {
		if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
			kBytes = b
			decoded = true
		}
	}
	if !decoded && len(key) == 64 {
		if h, err := hex.DecodeString(key); err == nil && len(h) == requiredKeyLength {
			kBytes = h
			decoded = true
		}
	}
	if !decoded {
		kBytes = []byte(key)
	}
	if len(kBytes) != requiredKeyLength {
		return "", fmt.Errorf("%w: clave inválida: %d bytes (requiere %d)", ErrMasterKeyUnavailable, len(kBytes), requiredKeyLength)
	}
	return decryptWith(kBytes, cipherText)
}

func decryptWith(key []byte, cipherText string) (string, error) {
	parts := strings.Split(cipherText, sep)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: formato inválido: esperado base64(nonce)|base64(ciphertext)", ErrDecryption)
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: decode nonce: %v", ErrDecryption, err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: decode ciphertext: %v", ErrDecryption, err)
	}
	if len(nonce) != nonceSizeGCM {
		return "", fmt.Errorf("%w: nonce inválido: esperado %d bytes, obtuvo %d", ErrDecryption, nonceSizeGCM, len(nonce))
	}

	aesgcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	pt, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("%w: gcm auth/decrypt: %v", ErrDecryption, err)
	}
	return string(pt), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aesgcm, nil
}

func snapshotKey() []byte {
	mu.RLock()
	defer mu.RUnlock()
	k := make([]byte, len(masterKey))
	copy(k, masterKey)
	return k
}

// --- Helpers para tests ---

// UnsafeResetForTests borra estado interno. Usar sólo en tests.
func UnsafeResetForTests() {
	mu.Lock()
	masterKey = nil
	mu.Unlock()
	masterKeyOnce = sync.Once{}
	loadErr = nil
}

// UnsafeSetMasterKeyForTests permite setear una clave cruda (32 bytes) en tests.
func UnsafeSetMasterKeyForTests(k []byte) error {
	if len(k) != requiredKeyLength {
		return fmt.Errorf("clave inválida para test: se requieren %d bytes", requiredKeyLength)
	}
	UnsafeResetForTests()
	mu.Lock()
	masterKey = make([]byte, len(k))
	copy(masterKey, k)
	mu.Unlock()
	return nil
}
