package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/monquartier/monquartier/core"
	"github.com/monquartier/monquartier/core/user"
)

const userColumns = `id, email, name, phone, community_id, role, status, balance_status, family_id,
	is_head_of_family, birth_date, avatar, password_hash, created_at, updated_at, last_login`

var userOrderFields = map[string]string{
	"name":         "LOWER(name)",
	"email":        "email",
	"role":         "role",
	"status":       "status",
	"community_id": "community_id",
	"created_at":   "created_at",
	"updated_at":   "updated_at",
}

type (
	userRepository struct {
		db *sqlx.DB
	}

	userRow struct {
		ID             string      `db:"id"`
		Email          string      `db:"email"`
		Name           string      `db:"name"`
		Phone          null.String `db:"phone"`
		CommunityID    string      `db:"community_id"`
		Role           string      `db:"role"`
		Status         string      `db:"status"`
		BalanceStatus  string      `db:"balance_status"`
		FamilyID       string      `db:"family_id"`
		IsHeadOfFamily bool        `db:"is_head_of_family"`
		BirthDate      null.String `db:"birth_date"`
		Avatar         null.String `db:"avatar"`
		PasswordHash   []byte      `db:"password_hash"`
		CreatedAt      time.Time   `db:"created_at"`
		UpdatedAt      time.Time   `db:"updated_at"`
		LastLogin      null.Time   `db:"last_login"`
	}
)

func NewUserRepository(db *sqlx.DB) user.Repository {
	return &userRepository{db: db}
}

func newUserRow(usr user.User) userRow {
	return userRow{
		ID:             usr.ID,
		Email:          usr.Email,
		Name:           usr.Name,
		Phone:          null.NewString(usr.Phone, usr.Phone != ""),
		CommunityID:    usr.CommunityID,
		Role:           usr.Role,
		Status:         usr.Status,
		BalanceStatus:  usr.BalanceStatus,
		FamilyID:       usr.FamilyID,
		IsHeadOfFamily: usr.IsHeadOfFamily,
		BirthDate:      null.NewString(usr.BirthDate, usr.BirthDate != ""),
		Avatar:         null.NewString(usr.Avatar, usr.Avatar != ""),
		PasswordHash:   usr.PasswordHash,
		CreatedAt:      usr.CreatedAt.UTC(),
		UpdatedAt:      usr.UpdatedAt.UTC(),
		LastLogin:      null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (row userRow) user() user.User {
	return user.User{
		ID:             row.ID,
		Email:          row.Email,
		Name:           row.Name,
		Phone:          row.Phone.String,
		CommunityID:    row.CommunityID,
		Role:           row.Role,
		Status:         row.Status,
		BalanceStatus:  row.BalanceStatus,
		FamilyID:       row.FamilyID,
		IsHeadOfFamily: row.IsHeadOfFamily,
		BirthDate:      row.BirthDate.String,
		Avatar:         row.Avatar.String,
		PasswordHash:   row.PasswordHash,
		CreatedAt:      row.CreatedAt.UTC(),
		UpdatedAt:      row.UpdatedAt.UTC(),
		LastLogin:      row.LastLogin.Time.UTC(),
	}
}

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...user.User) error {
	q := "SELECT COUNT(*) FROM users WHERE email = ?"
	args := []interface{}{email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, usr := range excludedUsers {
			ids = append(ids, usr.ID)
		}
		var err error
		q, args, err = sqlx.In(q+" AND id NOT IN (?)", email, ids)
		if err != nil {
			return errors.Wrap(err, "building query")
		}
	}

	var count int
	if err := repo.db.GetContext(ctx, &count, repo.db.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if count > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	q := `INSERT INTO users (` + userColumns + `) VALUES (:id, :email, :name, :phone, :community_id, :role, :status,
		:balance_status, :family_id, :is_head_of_family, :birth_date, :avatar, :password_hash, :created_at, :updated_at, :last_login)`
	if _, err := repo.db.NamedExecContext(ctx, q, newUserRow(usr)); err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) getUser(ctx context.Context, where string, args ...interface{}) (user.User, error) {
	var row userRow
	q := repo.db.Rebind("SELECT " + userColumns + " FROM users WHERE " + where + " LIMIT 1")
	if err := repo.db.GetContext(ctx, &row, q, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "selecting user")
	}
	return row.user(), nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, user.ErrNotFound
	}
	return repo.getUser(ctx, "id = ?", id)
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getUser(ctx, "email = ?", email)
}

func (repo *userRepository) GetFamilyHead(ctx context.Context, familyID string) (user.User, error) {
	return repo.getUser(ctx, "family_id = ? AND is_head_of_family = ?", familyID, true)
}

func (repo *userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter, orderings ...core.DBOrdering) ([]user.User, error) {
	conds := make([]string, 0, 4)
	args := make([]interface{}, 0, 6)
	if filter.Search != "" {
		search := "%" + strings.ToLower(filter.Search) + "%"
		conds = append(conds, "(LOWER(name) LIKE ? OR LOWER(email) LIKE ? OR LOWER(COALESCE(phone, '')) LIKE ?)")
		args = append(args, search, search, search)
	}
	if filter.CommunityID != "" {
		conds = append(conds, "community_id = ?")
		args = append(args, filter.CommunityID)
	}
	if len(filter.Roles) > 0 {
		conds = append(conds, "role IN (?)")
		args = append(args, filter.Roles)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}

	q := "SELECT " + userColumns + " FROM users"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	orders := make([]string, 0, len(orderings)+1)
	for _, ord := range orderings {
		if col, ok := userOrderFields[ord.Field]; ok {
			orders = append(orders, core.DBOrdering{Field: col, Ascending: ord.Ascending}.String())
		}
	}
	orders = append(orders, "created_at ASC")
	q += " ORDER BY " + strings.Join(orders, ", ")

	q, args, err := sqlx.In(q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}
	var rows []userRow
	if err = repo.db.SelectContext(ctx, &rows, repo.db.Rebind(q), args...); err != nil {
		return nil, errors.Wrap(err, "filtering users")
	}

	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.user())
	}
	return users, nil
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	q := `UPDATE users SET email = :email, name = :name, phone = :phone, community_id = :community_id, role = :role,
		status = :status, balance_status = :balance_status, family_id = :family_id, is_head_of_family = :is_head_of_family,
		birth_date = :birth_date, avatar = :avatar, password_hash = :password_hash, updated_at = :updated_at,
		last_login = :last_login
		WHERE id = :id`
	res, err := repo.db.NamedExecContext(ctx, q, newUserRow(usr))
	if err != nil {
		if isUniqueViolation(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "updating user")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return repo.GetUserByID(ctx, usr.ID)
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In("DELETE FROM users WHERE id IN (?)", ids)
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	if _, err = repo.db.ExecContext(ctx, repo.db.Rebind(q), args...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}
