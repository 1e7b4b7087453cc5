package service

import (
	"context"
	"errors"
	"time"

	"deltahedge/internal/models"
	"deltahedge/internal/repository"
)

// Ошибки сервиса ключей венью
var (
	ErrUnknownVenue   = errors.New("unknown venue: expected lending or perp")
	ErrEmptySecretKey = errors.New("secret_key is required")
	ErrEmptyWallet    = errors.New("wallet address is required for lending venue")
	ErrEmptyAPIKey    = errors.New("api_key is required for perp venue")
)

// StoreCredentialRequest - запрос на сохранение ключей одного венью
type StoreCredentialRequest struct {
	UserID    int    `json:"user_id"`
	Venue     string `json:"venue"`
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
	Wallet    string `json:"wallet"`
}

// CredentialStatus - статус подключения венью без секретов
type CredentialStatus struct {
	Venue     string    `json:"venue"`
	Connected bool      `json:"connected"`
	Wallet    string    `json:"wallet,omitempty"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// CredentialService предоставляет бизнес-логику для управления ключами венью.
// Секреты шифруются в CredentialStoreInterface и наружу не отдаются.
type CredentialService struct {
	store CredentialStoreInterface
	creds CredentialRepositoryInterface
}

// NewCredentialService создает новый экземпляр CredentialService
func NewCredentialService(store CredentialStoreInterface, creds CredentialRepositoryInterface) *CredentialService {
	return &CredentialService{store: store, creds: creds}
}

// Store валидирует и сохраняет ключи венью (upsert)
func (s *CredentialService) Store(ctx context.Context, req *StoreCredentialRequest) error {
	switch req.Venue {
	case models.VenueLending:
		// для lending нужен signing key + публичный адрес кошелька
		if req.SecretKey == "" {
			return ErrEmptySecretKey
		}
		if req.Wallet == "" {
			return ErrEmptyWallet
		}
	case models.VenuePerp:
		if req.APIKey == "" {
			return ErrEmptyAPIKey
		}
		if req.SecretKey == "" {
			return ErrEmptySecretKey
		}
	default:
		return ErrUnknownVenue
	}

	return s.store.Store(ctx, req.UserID, req.Venue, req.APIKey, req.SecretKey, req.Wallet)
}

// Status возвращает статус подключения обоих венью.
// Отсутствующая запись отображается как неподключённая.
func (s *CredentialService) Status(ctx context.Context, userID int) ([]*CredentialStatus, error) {
	out := make([]*CredentialStatus, 0, 2)
	for _, venueName := range []string{models.VenueLending, models.VenuePerp} {
		cred, err := s.creds.Get(ctx, userID, venueName)
		if err != nil {
			if errors.Is(err, repository.ErrCredentialNotFound) {
				out = append(out, &CredentialStatus{Venue: venueName})
				continue
			}
			return nil, err
		}
		out = append(out, &CredentialStatus{
			Venue:     cred.Venue,
			Connected: cred.Connected,
			Wallet:    cred.Wallet,
			LastError: cred.LastError,
			UpdatedAt: cred.UpdatedAt,
		})
	}
	return out, nil
}
