package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"deltahedge/internal/models"
)

// Ошибки репозитория venue credentials
var (
	ErrCredentialNotFound = errors.New("venue credential not found")
)

// CredentialRepository - работа с таблицей venue_credentials.
// Секретные поля приходят сюда уже зашифрованными (pkg/crypto);
// репозиторий не знает ключа шифрования.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository создаёт новый экземпляр репозитория
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Upsert сохраняет credentials пользователя для венью
func (r *CredentialRepository) Upsert(ctx context.Context, cred *models.VenueCredential) error {
	query := `
		INSERT INTO venue_credentials (user_id, venue, api_key, secret_key, wallet, connected, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id, venue) DO UPDATE SET
			api_key = EXCLUDED.api_key,
			secret_key = EXCLUDED.secret_key,
			wallet = EXCLUDED.wallet,
			connected = EXCLUDED.connected,
			updated_at = EXCLUDED.updated_at`

	now := time.Now().UTC()
	cred.UpdatedAt = now
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}

	_, err := r.db.ExecContext(ctx, query,
		cred.UserID, cred.Venue, cred.APIKey, cred.SecretKey, cred.Wallet, cred.Connected, now,
	)
	return err
}

// Get возвращает credentials пользователя для указанной венью
func (r *CredentialRepository) Get(ctx context.Context, userID int, venue string) (*models.VenueCredential, error) {
	query := `
		SELECT id, user_id, venue, api_key, secret_key, wallet, connected, last_error, created_at, updated_at
		FROM venue_credentials
		WHERE user_id = $1 AND venue = $2`

	cred := &models.VenueCredential{}
	var lastError sql.NullString
	err := r.db.QueryRowContext(ctx, query, userID, venue).Scan(
		&cred.ID, &cred.UserID, &cred.Venue, &cred.APIKey, &cred.SecretKey,
		&cred.Wallet, &cred.Connected, &lastError, &cred.CreatedAt, &cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCredentialNotFound
		}
		return nil, err
	}
	cred.LastError = lastError.String
	return cred, nil
}

// SetLastError записывает последнюю ошибку подключения к венью
func (r *CredentialRepository) SetLastError(ctx context.Context, userID int, venue, errMsg string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE venue_credentials SET last_error = $3, connected = $4, updated_at = $5
		 WHERE user_id = $1 AND venue = $2`,
		userID, venue, errMsg, errMsg == "", time.Now().UTC(),
	)
	return err
}
