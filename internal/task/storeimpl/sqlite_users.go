package storeimpl

import (
	"context"
	"database/sql"
	"time"

	"github.com/missionctl/mission-control/internal/pushnotification"
	"github.com/missionctl/mission-control/internal/user"
	"github.com/missionctl/mission-control/pkg/cerr"
)

type UserStore struct {
	db *sql.DB
}

var _ user.Store = (*UserStore)(nil)

type SubscriptionStore struct {
	db *sql.DB
}

var _ pushnotification.SubscriptionStore = (*SubscriptionStore)(nil)

const userColumns = `id, email, name, api_token, openclaw_endpoint, openclaw_token, created_at, updated_at`

func scanUser(s rowScanner) (*user.User, error) {
	var u user.User
	var endpoint, token sql.NullString
	var createdAt, updatedAt int64
	err := s.Scan(&u.ID, &u.Email, &u.Name, &u.APIToken, &endpoint, &token, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	u.RemoteEndpoint = endpoint.String
	u.RemoteToken = token.String
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	u.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &u, nil
}

func (d *UserStore) GetByID(ctx context.Context, id int64) (*user.User, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, cerr.WrapStoreReadError("user", err)
	}
	return u, nil
}

func (d *UserStore) GetByAPIToken(ctx context.Context, token string) (*user.User, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE api_token = ?`, token)
	u, err := scanUser(row)
	if err != nil {
		return nil, cerr.WrapStoreReadError("user", err)
	}
	return u, nil
}

func (d *UserStore) Upsert(ctx context.Context, u *user.User) error {
	now := time.Now().Unix()
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, api_token, openclaw_endpoint, openclaw_token, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			api_token = excluded.api_token,
			openclaw_endpoint = excluded.openclaw_endpoint,
			openclaw_token = excluded.openclaw_token,
			updated_at = excluded.updated_at`,
		u.ID, u.Email, u.Name, u.APIToken, nullStr(u.RemoteEndpoint), nullStr(u.RemoteToken), now, now)
	if err != nil {
		return cerr.WrapStoreWriteError("user", err)
	}
	return nil
}

func (d *UserStore) UpdateRemoteConfig(ctx context.Context, id int64, endpoint, token string) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE users SET openclaw_endpoint = ?, openclaw_token = ?, updated_at = ?
		WHERE id = ?`,
		endpoint, nullStr(token), time.Now().Unix(), id)
	if err != nil {
		return cerr.WrapStoreWriteError("user", err)
	}
	return requireRow(res, "user")
}

func (d *UserStore) ClearRemoteConfig(ctx context.Context, id int64) error {
	res, err := d.db.ExecContext(ctx, `
		UPDATE users SET openclaw_endpoint = NULL, openclaw_token = NULL, updated_at = ?
		WHERE id = ?`,
		time.Now().Unix(), id)
	if err != nil {
		return cerr.WrapStoreWriteError("user", err)
	}
	return requireRow(res, "user")
}

func (d *SubscriptionStore) Save(ctx context.Context, s *pushnotification.Subscription) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh, auth, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			endpoint = excluded.endpoint,
			p256dh = excluded.p256dh,
			auth = excluded.auth`,
		s.ID, s.UserID, s.Endpoint, s.P256dh, s.Auth, time.Now().Unix())
	if err != nil {
		return cerr.WrapStoreWriteError("push subscription", err)
	}
	return nil
}

func (d *SubscriptionStore) ListByUser(ctx context.Context, userID int64) ([]*pushnotification.Subscription, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth FROM push_subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, cerr.WrapStoreReadError("push subscriptions", err)
	}
	defer rows.Close()

	var subs []*pushnotification.Subscription
	for rows.Next() {
		var s pushnotification.Subscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.P256dh, &s.Auth); err != nil {
			return nil, cerr.WrapStoreReadError("push subscriptions", err)
		}
		subs = append(subs, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, cerr.WrapStoreReadError("push subscriptions", err)
	}
	return subs, nil
}

func (d *SubscriptionStore) Delete(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ?`, id)
	if err != nil {
		return cerr.WrapStoreDeleteError("push subscription", err)
	}
	return nil
}
