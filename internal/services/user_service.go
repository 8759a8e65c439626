package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"

	"mcqapp/internal/models"
	"mcqapp/internal/observability"
	contextutils "mcqapp/internal/utils"
)

// UserServiceInterface defines the contract for user management operations
type UserServiceInterface interface {
	CreateUserWithPassword(ctx context.Context, username, email, password string) (*models.User, error)
	AuthenticateUser(ctx context.Context, username, password string) (*models.User, error)
	GetUserByID(ctx context.Context, id int) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UpdateLastActive(ctx context.Context, userID int) error
	GetAllUsers(ctx context.Context) ([]models.User, error)
	DeleteUser(ctx context.Context, userID int) error
	EnsureAdminUserExists(ctx context.Context, adminUsername, adminPassword string) error
	IsAdmin(ctx context.Context, userID int) (bool, error)
	GetDB() *sql.DB
}

// UserService provides user management operations backed by Postgres
type UserService struct {
	db     *sql.DB
	logger *observability.Logger
}

// Ensure UserService implements UserServiceInterface
var _ UserServiceInterface = (*UserService)(nil)

// userSelectFields is the standard set of user fields for SELECT queries
const userSelectFields = `id, username, email, password_hash, is_admin, last_active, created_at, updated_at`

// userSelectFieldsNoPassword excludes the password hash for listing endpoints
const userSelectFieldsNoPassword = `id, username, email, is_admin, last_active, created_at, updated_at`

// NewUserService creates a new user service instance
func NewUserService(db *sql.DB, logger *observability.Logger) *UserService {
	return &UserService{db: db, logger: logger}
}

// scanUserFromRow scans a user from a database row using the standard field order
func (s *UserService) scanUserFromRow(row *sql.Row) (result0 *models.User, err error) {
	var user models.User
	err = row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash,
		&user.IsAdmin, &user.LastActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// scanUserFromRowsNoPassword scans a user from rows without the password hash
func (s *UserService) scanUserFromRowsNoPassword(rows *sql.Rows) (result0 *models.User, err error) {
	var user models.User
	err = rows.Scan(
		&user.ID, &user.Username, &user.Email,
		&user.IsAdmin, &user.LastActive, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// getUserByQuery executes a query and returns a user, handling not-found gracefully
func (s *UserService) getUserByQuery(ctx context.Context, query string, args ...interface{}) (result0 *models.User, err error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	user, err := s.scanUserFromRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, contextutils.WrapError(err, "failed to get user")
	}
	return user, nil
}

// CreateUserWithPassword creates a new user with a bcrypt-hashed password
func (s *UserService) CreateUserWithPassword(ctx context.Context, username, email, password string) (result0 *models.User, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "create_user_with_password",
		attribute.String("user.username", username),
	)
	defer observability.FinishSpan(span, &err)

	if username == "" {
		return nil, contextutils.WrapError(contextutils.ErrInvalidInput, "username cannot be empty")
	}
	if password == "" {
		return nil, contextutils.WrapError(contextutils.ErrInvalidInput, "password cannot be empty")
	}

	var hashedPassword []byte
	hashedPassword, err = bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to hash password")
	}

	emailValue := sql.NullString{String: email, Valid: email != ""}
	now := time.Now()

	query := fmt.Sprintf(`
		INSERT INTO users (username, email, password_hash, is_admin, last_active, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, $4, $5, $6)
		RETURNING %s`, userSelectFields)

	row := s.db.QueryRowContext(ctx, query, username, emailValue, string(hashedPassword), now, now, now)
	user, err := s.scanUserFromRow(row)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, contextutils.WrapErrorf(contextutils.ErrRecordExists, "username %q is already taken", username)
		}
		return nil, contextutils.WrapError(err, "failed to create user")
	}

	s.logger.Info(ctx, "Created user", map[string]interface{}{"user_id": user.ID, "username": user.Username})
	return user, nil
}

// AuthenticateUser verifies a username/password pair and returns the user on success
func (s *UserService) AuthenticateUser(ctx context.Context, username, password string) (result0 *models.User, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "authenticate_user",
		attribute.String("user.username", username),
	)
	defer observability.FinishSpan(span, &err)

	user, err := s.GetUserByUsername(ctx, username)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to look up user")
	}
	if user == nil || !user.PasswordHash.Valid {
		return nil, contextutils.WrapError(contextutils.ErrInvalidCredentials, "invalid username or password")
	}

	err = bcrypt.CompareHashAndPassword([]byte(user.PasswordHash.String), []byte(password))
	if err != nil {
		return nil, contextutils.WrapError(contextutils.ErrInvalidCredentials, "invalid username or password")
	}

	return user, nil
}

// GetUserByID retrieves a user by their ID
func (s *UserService) GetUserByID(ctx context.Context, id int) (result0 *models.User, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "get_user_by_id", observability.AttributeUserID(id))
	defer observability.FinishSpan(span, &err)

	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userSelectFields)
	return s.getUserByQuery(ctx, query, id)
}

// GetUserByUsername retrieves a user by username
func (s *UserService) GetUserByUsername(ctx context.Context, username string) (result0 *models.User, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "get_user_by_username",
		attribute.String("user.username", username),
	)
	defer observability.FinishSpan(span, &err)

	query := fmt.Sprintf(`SELECT %s FROM users WHERE username = $1`, userSelectFields)
	return s.getUserByQuery(ctx, query, username)
}

// UpdateLastActive updates the user's last activity timestamp
func (s *UserService) UpdateLastActive(ctx context.Context, userID int) (err error) {
	ctx, span := observability.TraceUserFunction(ctx, "update_last_active", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	query := `UPDATE users SET last_active = $1 WHERE id = $2`
	var result sql.Result
	result, err = s.db.ExecContext(ctx, query, time.Now(), userID)
	if err != nil {
		return contextutils.WrapError(err, "failed to update user last active timestamp")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return contextutils.WrapError(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "user with ID %d not found", userID)
	}

	return nil
}

// GetAllUsers retrieves all users without password hashes
func (s *UserService) GetAllUsers(ctx context.Context) (result0 []models.User, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "get_all_users")
	defer observability.FinishSpan(span, &err)

	query := fmt.Sprintf("SELECT %s FROM users ORDER BY id", userSelectFieldsNoPassword)
	var rows *sql.Rows
	rows, err = s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query all users")
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn(ctx, "Warning: failed to close rows", map[string]interface{}{"error": closeErr.Error()})
		}
	}()

	var users []models.User
	for rows.Next() {
		user, err := s.scanUserFromRowsNoPassword(rows)
		if err != nil {
			return nil, contextutils.WrapError(err, "failed to scan user from rows")
		}
		users = append(users, *user)
	}
	if err = rows.Err(); err != nil {
		return nil, contextutils.WrapError(err, "failed to iterate users")
	}

	return users, nil
}

// DeleteUser removes a user and their tests and results
func (s *UserService) DeleteUser(ctx context.Context, userID int) (err error) {
	ctx, span := observability.TraceUserFunction(ctx, "delete_user", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	var tx *sql.Tx
	tx, err = s.db.BeginTx(ctx, nil)
	if err != nil {
		return contextutils.WrapError(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.Warn(ctx, "Warning: failed to rollback transaction", map[string]interface{}{"error": rbErr.Error()})
			}
		}
	}()

	// Dependent rows first, users last
	for _, query := range []string{
		`DELETE FROM test_results WHERE user_id = $1`,
		`DELETE FROM tests WHERE user_id = $1`,
	} {
		if _, err = tx.ExecContext(ctx, query, userID); err != nil {
			return contextutils.WrapError(err, "failed to delete user data")
		}
	}

	var result sql.Result
	result, err = tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return contextutils.WrapError(err, "failed to delete user")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return contextutils.WrapError(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "user with ID %d not found", userID)
	}

	if err = tx.Commit(); err != nil {
		return contextutils.WrapError(err, "failed to commit transaction")
	}

	s.logger.Info(ctx, "Deleted user", map[string]interface{}{"user_id": userID})
	return nil
}

// UpdateUserPassword replaces a user's password hash
func (s *UserService) UpdateUserPassword(ctx context.Context, userID int, newPassword string) (err error) {
	ctx, span := observability.TraceUserFunction(ctx, "update_user_password", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	if newPassword == "" {
		return contextutils.WrapError(contextutils.ErrInvalidInput, "password cannot be empty")
	}

	var hashedPassword []byte
	hashedPassword, err = bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return contextutils.WrapError(err, "failed to hash password")
	}

	var result sql.Result
	result, err = s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		string(hashedPassword), time.Now(), userID)
	if err != nil {
		return contextutils.WrapError(err, "failed to update password")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return contextutils.WrapError(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "user with ID %d not found", userID)
	}

	s.logger.Info(ctx, "Updated user password", map[string]interface{}{"user_id": userID})
	return nil
}

// EnsureAdminUserExists creates the admin user if missing, or refreshes its password
func (s *UserService) EnsureAdminUserExists(ctx context.Context, adminUsername, adminPassword string) (err error) {
	ctx, span := observability.TraceUserFunction(ctx, "ensure_admin_user_exists",
		attribute.String("admin.username", adminUsername),
	)
	defer observability.FinishSpan(span, &err)

	if adminUsername == "" {
		return contextutils.ErrorWithContextf("admin username cannot be empty")
	}
	if adminPassword == "" {
		return contextutils.ErrorWithContextf("admin password cannot be empty")
	}

	var existingUser *models.User
	existingUser, err = s.GetUserByUsername(ctx, adminUsername)
	if err != nil {
		return contextutils.WrapError(err, "failed to check if admin user exists")
	}

	if existingUser != nil {
		if existingUser.PasswordHash.Valid {
			if bcrypt.CompareHashAndPassword([]byte(existingUser.PasswordHash.String), []byte(adminPassword)) == nil {
				if !existingUser.IsAdmin {
					if err = s.promoteToAdmin(ctx, existingUser.ID); err != nil {
						return err
					}
				}
				s.logger.Info(ctx, "Admin user already exists with correct password", map[string]interface{}{"username": adminUsername})
				return nil
			}
		}

		hashedPassword, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
		if err != nil {
			return contextutils.WrapError(err, "failed to hash admin password")
		}

		query := `UPDATE users SET password_hash = $1, is_admin = TRUE, updated_at = $2 WHERE username = $3`
		if _, err = s.db.ExecContext(ctx, query, string(hashedPassword), time.Now(), adminUsername); err != nil {
			return contextutils.WrapError(err, "failed to update admin user password")
		}

		s.logger.Info(ctx, "Updated password for admin user", map[string]interface{}{"username": adminUsername})
		return nil
	}

	var user *models.User
	user, err = s.CreateUserWithPassword(ctx, adminUsername, "", adminPassword)
	if err != nil {
		return contextutils.WrapError(err, "failed to create admin user")
	}
	if err = s.promoteToAdmin(ctx, user.ID); err != nil {
		return err
	}

	s.logger.Info(ctx, "Created admin user", map[string]interface{}{"username": adminUsername, "user_id": user.ID})
	return nil
}

func (s *UserService) promoteToAdmin(ctx context.Context, userID int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET is_admin = TRUE, updated_at = $1 WHERE id = $2`, time.Now(), userID)
	if err != nil {
		return contextutils.WrapError(err, "failed to grant admin privileges")
	}
	return nil
}

// IsAdmin reports whether the user has admin privileges
func (s *UserService) IsAdmin(ctx context.Context, userID int) (result0 bool, err error) {
	ctx, span := observability.TraceUserFunction(ctx, "is_admin", observability.AttributeUserID(userID))
	defer observability.FinishSpan(span, &err)

	var isAdmin bool
	err = s.db.QueryRowContext(ctx, `SELECT is_admin FROM users WHERE id = $1`, userID).Scan(&isAdmin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, contextutils.WrapError(err, "failed to check admin status")
	}
	return isAdmin, nil
}

// GetDB returns the underlying database connection
func (s *UserService) GetDB() *sql.DB {
	return s.db
}

// isDuplicateKeyError reports whether the error is a unique constraint violation
func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key value violates unique constraint")
}
