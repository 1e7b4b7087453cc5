package models

import "time"

// VenueCredential представляет учётные данные пользователя на одной из венью.
// Секретные поля хранятся зашифрованными (AES-256-GCM, pkg/crypto)
// и никогда не возвращаются в JSON.
type VenueCredential struct {
	ID        int       `json:"id" db:"id"`
	UserID    int       `json:"user_id" db:"user_id"`
	Venue     string    `json:"venue" db:"venue"`   // lending, perp
	APIKey    string    `json:"-" db:"api_key"`     // зашифрован (perp API key)
	SecretKey string    `json:"-" db:"secret_key"`  // зашифрован (perp secret / solana signing key)
	Wallet    string    `json:"wallet" db:"wallet"` // публичный адрес кошелька
	Connected bool      `json:"connected" db:"connected"`
	LastError string    `json:"last_error,omitempty" db:"last_error"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Имена венью
const (
	VenueLending = "lending" // Solana lending/margin протокол (длинная нога)
	VenuePerp    = "perp"    // Arbitrum perp-биржа (короткая нога)
)
