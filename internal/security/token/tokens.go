package tokens

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// GenerateNonce genera un identificador aleatorio por-token (hex).
// nBytes >= 16 según política; el access y el refresh llevan nonces independientes.
func GenerateNonce(nBytes int) (string, error) {
	if nBytes < 16 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// GenerateSalt genera la sal por-sesión usada para hashear el refresh nonce.
func GenerateSalt(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashNonce devuelve sha256(salt || nonce) en hex. Es lo único que se persiste:
// el nonce plano sólo viaja dentro del refresh token firmado.
func HashNonce(salt, nonce string) string {
	sum := sha256.Sum256([]byte(salt + nonce))
	return hex.EncodeToString(sum[:])
}

// HashEqual compara dos hashes en tiempo constante.
func HashEqual(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

