package crypto

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// Ошибки проверки админского credential
var (
	ErrEmptyToken    = errors.New("admin token cannot be empty")
	ErrTokenMismatch = errors.New("admin token does not match")
	ErrTokenTooLong  = errors.New("admin token exceeds maximum length of 72 bytes")
)

// DefaultCost - стоимость bcrypt по умолчанию
const DefaultCost = 12

// MaxTokenLength - лимит bcrypt (72 байта)
const MaxTokenLength = 72

// HashAdminToken хеширует админский токен через bcrypt.
// Используется оффлайн для генерации значения ADMIN_TOKEN_BCRYPT.
func HashAdminToken(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if len(token) > MaxTokenLength {
		return "", ErrTokenTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyAdminToken проверяет предъявленный токен против настроенного
// credential. Оба пути устойчивы к timing-атакам: bcrypt по построению,
// сырое сравнение - через subtle.ConstantTimeCompare.
//
// Если задан bcryptHash, он имеет приоритет над rawToken.
func VerifyAdminToken(presented, rawToken, bcryptHash string) error {
	if presented == "" {
		return ErrEmptyToken
	}

	if bcryptHash != "" {
		if err := bcrypt.CompareHashAndPassword([]byte(bcryptHash), []byte(presented)); err != nil {
			return ErrTokenMismatch
		}
		return nil
	}

	if rawToken == "" {
		return ErrTokenMismatch
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(rawToken)) != 1 {
		return ErrTokenMismatch
	}
	return nil
}
