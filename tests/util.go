package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/monquartier/monquartier/core/user"
)

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, pwd, communityID, role, status string,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	if role == "" {
		role = user.RoleResident
	}
	if status == "" {
		status = user.StatusValidated
	}
	usr := user.User{
		Name:          name,
		Email:         email,
		CommunityID:   communityID,
		Role:          role,
		Status:        status,
		BalanceStatus: user.BalanceOK,
		CreatedAt:     tstamp,
		UpdatedAt:     tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}
