package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// MemberRepository resolves a user's accessible scopes (servers).
type MemberRepository interface {
	ListServerIDs(ctx context.Context, userID int64) ([]int64, error)
	ListUserIDsByServer(ctx context.Context, serverID int64) ([]int64, error)
	IsMember(ctx context.Context, serverID int64, userID int64) (bool, error)
}

// MemberRepo is a sqlx-backed repository.
type MemberRepo struct {
	db *sqlx.DB
}

// NewMemberRepo constructs MemberRepo.
func NewMemberRepo(db *sqlx.DB) *MemberRepo {
	return &MemberRepo{db: db}
}

// ListServerIDs returns the servers the user belongs to.
func (r *MemberRepo) ListServerIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT server_id FROM server_members WHERE user_id = $1 ORDER BY server_id`, userID)
	return ids, err
}

// ListUserIDsByServer returns the members of a server.
func (r *MemberRepo) ListUserIDsByServer(ctx context.Context, serverID int64) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT user_id FROM server_members WHERE server_id = $1 ORDER BY user_id`, serverID)
	return ids, err
}

// IsMember checks whether a user belongs to the server.
func (r *MemberRepo) IsMember(ctx context.Context, serverID int64, userID int64) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM server_members WHERE server_id = $1 AND user_id = $2)`,
		serverID, userID)
	return exists, err
}
