package bot

import (
	"context"
	"fmt"

	"deltahedge/internal/models"
	"deltahedge/internal/repository"
	"deltahedge/internal/venue"
	"deltahedge/pkg/crypto"
)

// UserAuth - расшифрованные учётные данные пользователя для обеих венью.
// Живёт только в памяти на время одной операции.
type UserAuth struct {
	Lending venue.Auth
	Perp    venue.Auth
}

// CredentialSource выдаёт расшифрованные venue-учётки из хранилища.
// Ключи лежат в БД зашифрованными AES-256-GCM (pkg/crypto).
type CredentialSource struct {
	repo          *repository.CredentialRepository
	encryptionKey []byte
}

// NewCredentialSource создаёт источник учётных данных
func NewCredentialSource(repo *repository.CredentialRepository, encryptionKey string) *CredentialSource {
	return &CredentialSource{
		repo:          repo,
		encryptionKey: []byte(encryptionKey),
	}
}

// Resolve загружает и расшифровывает учётки пользователя для обеих венью
func (s *CredentialSource) Resolve(ctx context.Context, userID int) (*UserAuth, error) {
	lending, err := s.resolveVenue(ctx, userID, models.VenueLending)
	if err != nil {
		return nil, err
	}
	perp, err := s.resolveVenue(ctx, userID, models.VenuePerp)
	if err != nil {
		return nil, err
	}
	return &UserAuth{Lending: lending, Perp: perp}, nil
}

func (s *CredentialSource) resolveVenue(ctx context.Context, userID int, venueName string) (venue.Auth, error) {
	cred, err := s.repo.Get(ctx, userID, venueName)
	if err != nil {
		return venue.Auth{}, fmt.Errorf("load %s credentials for user %d: %w", venueName, userID, err)
	}

	apiKey, err := crypto.Decrypt(cred.APIKey, s.encryptionKey)
	if err != nil {
		return venue.Auth{}, fmt.Errorf("decrypt %s api key for user %d: %w", venueName, userID, err)
	}
	secretKey, err := crypto.Decrypt(cred.SecretKey, s.encryptionKey)
	if err != nil {
		return venue.Auth{}, fmt.Errorf("decrypt %s secret key for user %d: %w", venueName, userID, err)
	}

	return venue.Auth{
		APIKey:    apiKey,
		SecretKey: secretKey,
		Wallet:    cred.Wallet,
	}, nil
}

// Store шифрует и сохраняет учётки пользователя для венью
func (s *CredentialSource) Store(ctx context.Context, userID int, venueName, apiKey, secretKey, wallet string) error {
	encKey, err := crypto.Encrypt(apiKey, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	encSecret, err := crypto.Encrypt(secretKey, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("encrypt secret key: %w", err)
	}

	return s.repo.Upsert(ctx, &models.VenueCredential{
		UserID:    userID,
		Venue:     venueName,
		APIKey:    encKey,
		SecretKey: encSecret,
		Wallet:    wallet,
		Connected: true,
	})
}
