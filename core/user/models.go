package user

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/monquartier/monquartier/core"
)

// Roles
const (
	RoleGod      = "GOD" // platform operator, sees every community
	RoleAdmin    = "ADMIN"
	RoleSecurity = "SECURITY"
	RoleWorker   = "WORKER"
	RoleResident = "RESIDENT"
)

// Statuses
const (
	StatusPending   = "PENDING"
	StatusValidated = "VALIDATED"
	StatusBanned    = "BANNED"
)

// Balance statuses
const (
	BalanceOK   = "OK"
	BalanceLate = "LATE"
)

var (
	AllRoles    = []string{RoleGod, RoleAdmin, RoleSecurity, RoleWorker, RoleResident}
	AllStatuses = []string{StatusPending, StatusValidated, StatusBanned}

	rolePriorities = map[string]int{
		RoleGod:      40,
		RoleAdmin:    30,
		RoleSecurity: 20,
		RoleWorker:   11,
		RoleResident: 1,
	}

	Roles = []Role{
		{Name: "Habitant", Value: RoleResident},
		{Name: "Travailleur", Value: RoleWorker},
		{Name: "Sécurité", Value: RoleSecurity},
		{Name: "Administrateur", Value: RoleAdmin},
		{Name: "Super Admin", Value: RoleGod},
	}
)

func RolePriority(role string) int {
	return rolePriorities[role]
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	Name           string    `json:"name"`
	Phone          string    `json:"phone"`
	CommunityID    string    `json:"community_id"`
	Role           string    `json:"role"`
	Status         string    `json:"status"`
	BalanceStatus  string    `json:"balance_status"`
	FamilyID       string    `json:"family_id"`
	IsHeadOfFamily bool      `json:"is_head_of_family"`
	BirthDate      string    `json:"birth_date,omitempty"` // YYYY-MM-DD
	Avatar         string    `json:"avatar,omitempty"`
	PasswordHash   []byte    `json:"-"`
	CreatedAt      time.Time `json:"created_at"` // UTC
	UpdatedAt      time.Time `json:"updated_at"` // UTC
	LastLogin      time.Time `json:"-"`          // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) IsGod() bool { return u.Role == RoleGod }

// IsAdmin reports whether the user administers their community.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin || u.Role == RoleGod }

func (u *User) IsBanned() bool { return u.Status == StatusBanned }

// NewUser contains information needed to register a resident.
// With a FamilyCode, the resident joins that family and its community;
// without, they create a new family in CommunityID and become its head.
type NewUser struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Phone       string `json:"phone"`
	BirthDate   string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	CommunityID string `json:"community_id" validate:"required_without=FamilyCode"`
	FamilyCode  string `json:"family_code" validate:"omitempty,familycode"`
}

func (nu *NewUser) Validate(validate *validator.Validate, svc Service) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Phone = core.CleanString(nu.Phone)
	nu.CommunityID = core.CleanString(nu.CommunityID)
	nu.FamilyCode = strings.ToUpper(core.CleanString(nu.FamilyCode))

	if err := validate.Struct(nu); err != nil {
		return err
	}
	return svc.CheckEmailUniqueness(nu.Email)
}

// UpdateUser defines what residents may change on their own profile.
type UpdateUser struct {
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	BirthDate       string `json:"birth_date" validate:"omitempty,datetime=2006-01-02"`
	Avatar          string `json:"avatar" validate:"omitempty,url"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`

	// filled from the original user by Validate, used by the password policy
	email string
}

func (uu *UpdateUser) Validate(origUsr User, validate *validator.Validate) error {
	if name := core.CleanString(uu.Name); name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}
	if phone := core.CleanString(uu.Phone); phone != "" {
		uu.Phone = phone
	} else {
		uu.Phone = origUsr.Phone
	}
	if uu.BirthDate == "" {
		uu.BirthDate = origUsr.BirthDate
	}
	if uu.Avatar == "" {
		uu.Avatar = origUsr.Avatar
	}
	uu.email = origUsr.Email
	return validate.Struct(uu)
}

// AdminUpdate holds the changes only admins may apply to a user.
type AdminUpdate struct {
	Role        string `json:"role" validate:"omitempty,rolename"`
	Status      string `json:"status" validate:"omitempty,oneof=PENDING VALIDATED BANNED"`
	CommunityID string `json:"community_id"`
}

func (au *AdminUpdate) Validate(validate *validator.Validate) error {
	au.CommunityID = core.CleanString(au.CommunityID)
	return validate.Struct(au)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate(validate *validator.Validate) error { return validate.Struct(rp) }

// FamilyInfo is what a family code reveals before joining.
type FamilyInfo struct {
	HeadName    string `json:"head_name"`
	CommunityID string `json:"community_id"`
}

type QueryFilter struct {
	Search      string   `query:"search"`
	CommunityID string   `query:"community_id"`
	Roles       []string `query:"role"`
	Status      string   `query:"status"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.CommunityID == "" && qf.Roles == nil && qf.Status == ""
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.CommunityID = core.CleanString(qf.CommunityID)
}

