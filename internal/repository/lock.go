package repository

import (
	"context"
	"database/sql"
	"time"
)

// Классы advisory-локов (первый аргумент pg_try_advisory_lock).
// Вторым аргументом идёт user_id - лок действует на пару (класс, пользователь).
const (
	LockClassAutoScan = int32(1) // оценка пользователя автономным сканером
)

// AdvisoryLocker - per-user mutual exclusion через Postgres advisory locks.
//
// Лок виден всем процессам, подключённым к той же БД, поэтому
// гарантия "не более одной конкурентной оценки пользователя"
// сохраняется и при нескольких репликах сервиса (in-process mutex
// этого не даёт).
//
// Session-level lock требует освобождения на том же соединении,
// поэтому TryLock резервирует соединение из пула до вызова release.
type AdvisoryLocker struct {
	db *sql.DB
}

// NewAdvisoryLocker создаёт новый AdvisoryLocker
func NewAdvisoryLocker(db *sql.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// TryLock пытается взять лок (class, key) без ожидания.
// Возвращает (release, true) при успехе; release обязан быть вызван.
// Если лок уже занят (другим процессом или другой горутиной) -
// (nil, false): вызывающий пропускает пользователя в этом цикле.
func (l *AdvisoryLocker) TryLock(ctx context.Context, class int32, key int) (func(), bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, false, err
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1, $2)`, class, key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, err
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	release := func() {
		// Unlock на том же соединении; best-effort - разрыв соединения
		// освобождает session-level лок и сам по себе
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1, $2)`, class, key)
		conn.Close()
	}
	return release, true, nil
}

// OpLockRepository - короткоживущий exclusive лок "операция с позицией
// идёт" для пользователя. Защищает от double-submit: дубль запроса от
// клиента не должен гоняться со входом, инициированным сканером.
//
// TTL служит страховкой: если процесс упал не освободив лок,
// следующая попытка захвата перезапишет протухшую запись.
type OpLockRepository struct {
	db *sql.DB
}

// NewOpLockRepository создаёт новый экземпляр
func NewOpLockRepository(db *sql.DB) *OpLockRepository {
	return &OpLockRepository{db: db}
}

// TryAcquire пытается взять лок операции для пользователя.
// true = лок взят; false = другая операция уже идёт.
func (r *OpLockRepository) TryAcquire(ctx context.Context, userID int, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	query := `
		INSERT INTO position_op_locks (user_id, acquired_at, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
		WHERE position_op_locks.expires_at < EXCLUDED.acquired_at`

	res, err := r.db.ExecContext(ctx, query, userID, now, now.Add(ttl))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Release освобождает лок операции.
// Вызывается на всех путях выхода фонового job'а (defer).
func (r *OpLockRepository) Release(ctx context.Context, userID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM position_op_locks WHERE user_id = $1`, userID)
	return err
}
