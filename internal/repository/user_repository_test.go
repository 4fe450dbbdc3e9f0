package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/AgusMolinaCode/DCA_Portfolio/internal/models"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserRepositoryCreateDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WithArgs("u1", "ana@example.com", "hash", "Ana", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	repo := NewUserRepository(db)
	err = repo.CreateUser(context.Background(), &models.User{
		ID: "u1", Email: " Ana@Example.com ", Password: "hash", Name: "Ana", CreatedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrUserExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryGetUserByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, email, password, name, created_at FROM users WHERE email = $1")).
		WithArgs("ana@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password", "name", "created_at"}).
			AddRow("u1", "ana@example.com", "hash", "Ana", now))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE email = $1")).
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "password", "name", "created_at"}))

	repo := NewUserRepository(db)
	user, err := repo.GetUserByEmail(context.Background(), "ANA@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", user.ID)
	assert.True(t, user.HasPassword())

	_, err = repo.GetUserByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMemoryUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryUserRepository()

	require.NoError(t, repo.CreateUser(ctx, &models.User{ID: "u1", Email: "Ana@example.com", Password: "hash", Name: "Ana"}))
	assert.ErrorIs(t, repo.CreateUser(ctx, &models.User{ID: "u2", Email: "ana@example.com"}), ErrUserExists)

	byEmail, err := repo.GetUserByEmail(ctx, "ANA@EXAMPLE.COM")
	require.NoError(t, err)
	assert.Equal(t, "hash", byEmail.Password)

	byID, err := repo.GetUserById(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, byID.Password)

	require.NoError(t, repo.UpdateUser(ctx, &models.User{ID: "u1", Email: "ana@new.com", Name: "Ana B"}))
	users, err := repo.GetAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "ana@new.com", users[0].Email)

	require.NoError(t, repo.DeleteUser(ctx, "u1"))
	assert.ErrorIs(t, repo.DeleteUser(ctx, "u1"), ErrNotFound)
}
