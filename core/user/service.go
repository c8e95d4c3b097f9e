package user

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/monquartier/monquartier/core"
)

const (
	familyCodePrefix   = "FAM-"
	familyCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	familyCodeLen      = 6
	familyCodeAttempts = 5
)

var (
	// errors
	ErrNotFound       = errors.New("user not found")
	ErrEmailExists    = errors.New("user already registered")
	ErrFamilyNotFound = errors.New("Aucun foyer trouvé avec ce code.")
	ErrFamilyCodeGen  = errors.New("could not generate a unique family code")
)

type (
	Repository interface {
		CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		// GetFamilyHead returns the head of the family identified by familyID.
		GetFamilyHead(ctx context.Context, familyID string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Email or User.Phone.
		FilterUsers(ctx context.Context, filter QueryFilter, orderings ...core.DBOrdering) ([]User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		DeleteUsersByID(ctx context.Context, ids ...string) error
	}

	Service interface {
		CheckEmailUniqueness(email string, excludedUsers ...User) error
		Register(ctx context.Context, nu NewUser) (User, error)
		VerifyFamilyCode(ctx context.Context, code string) (FamilyInfo, error)
		Authenticate(ctx context.Context, email, pwd string) (User, error)
		Query(ctx context.Context, filter QueryFilter, orderings ...core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		Update(ctx context.Context, usr User, uu UpdateUser) (User, error)
		AdminUpdate(ctx context.Context, usr User, au AdminUpdate) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		SetPassword(ctx context.Context, usr User, pwd string) (User, error)
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) (User, error)
		Delete(ctx context.Context, ids ...string) error
	}

	service struct {
		repo        Repository
		mailSvc     core.EmailService
		logger      core.Logger
		familyCodes func() (string, error) // generateFamilyCode when nil
	}
)

var _ Service = (*service)(nil)

func NewService(repo Repository, mailSvc core.EmailService, conf *core.Config, logger core.Logger) Service {
	configure(conf)
	return &service{repo: repo, mailSvc: mailSvc, logger: logger}
}

func configure(conf *core.Config) {
	secretKey = []byte(conf.SecretKey)
	if conf.PasswordResetTimeoutDelta > 0 {
		passwordResetTimeoutDelta = conf.PasswordResetTimeoutDelta
	}
}

func (svc *service) CheckEmailUniqueness(email string, excludedUsers ...User) error {
	err := svc.repo.CheckEmailUniqueness(context.Background(), email, excludedUsers...)
	if errors.Cause(err) == ErrEmailExists {
		return core.NewValidationError(err, core.FieldError{Field: "email", Error: core.UserMessage(err)})
	}
	return err
}

// Register creates a validated resident. nu must have been validated.
func (svc *service) Register(ctx context.Context, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		Email:         nu.Email,
		Name:          nu.Name,
		Phone:         nu.Phone,
		BirthDate:     nu.BirthDate,
		CommunityID:   nu.CommunityID,
		Role:          RoleResident,
		Status:        StatusValidated,
		BalanceStatus: BalanceOK,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if nu.FamilyCode != "" {
		info, err := svc.VerifyFamilyCode(ctx, nu.FamilyCode)
		if err != nil {
			return User{}, err
		}
		usr.FamilyID = strings.ToUpper(nu.FamilyCode)
		usr.CommunityID = info.CommunityID
	} else {
		code, err := svc.newFamilyCode(ctx)
		if err != nil {
			return User{}, err
		}
		usr.FamilyID = code
		usr.IsHeadOfFamily = true
	}

	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr, err := svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "creating user")
	}

	svc.sendWelcomeMail(usr)
	return usr, nil
}

// newFamilyCode generates a family code no family uses yet, e.g. "FAM-7KQ2XA".
func (svc *service) newFamilyCode(ctx context.Context) (string, error) {
	generate := svc.familyCodes
	if generate == nil {
		generate = generateFamilyCode
	}
	for i := 0; i < familyCodeAttempts; i++ {
		code, err := generate()
		if err != nil {
			return "", err
		}
		_, err = svc.repo.GetFamilyHead(ctx, code)
		if errors.Cause(err) == ErrNotFound {
			return code, nil
		}
		if err != nil {
			return "", errors.Wrap(err, "checking family code")
		}
	}
	return "", ErrFamilyCodeGen
}

func generateFamilyCode() (string, error) {
	code := make([]byte, familyCodeLen)
	max := big.NewInt(int64(len(familyCodeAlphabet)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "generating family code")
		}
		code[i] = familyCodeAlphabet[n.Int64()]
	}
	return familyCodePrefix + string(code), nil
}

func (svc *service) VerifyFamilyCode(ctx context.Context, code string) (FamilyInfo, error) {
	code = strings.ToUpper(core.CleanString(code))
	if !core.IsFamilyCode(code) {
		return FamilyInfo{}, core.NewValidationError(nil, core.FieldError{Field: "family_code", Error: "Code famille invalide."})
	}
	head, err := svc.repo.GetFamilyHead(ctx, code)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return FamilyInfo{}, core.NewValidationError(ErrFamilyNotFound, core.FieldError{Field: "family_code", Error: ErrFamilyNotFound.Error()})
		}
		return FamilyInfo{}, errors.Wrap(err, "finding family head")
	}
	return FamilyInfo{HeadName: head.Name, CommunityID: head.CommunityID}, nil
}

// Authenticate returns the user with the given credentials. It fails with ErrNotFound when they do not match.
func (svc *service) Authenticate(ctx context.Context, email, pwd string) (User, error) {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return User{}, ErrNotFound
	}
	return usr, nil
}

func (svc *service) Query(ctx context.Context, filter QueryFilter, orderings ...core.DBOrdering) ([]User, error) {
	return svc.repo.FilterUsers(ctx, filter, orderings...)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

// Update applies a profile update. uu must have been validated against usr.
func (svc *service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.Name = uu.Name
	usr.Phone = uu.Phone
	usr.BirthDate = uu.BirthDate
	usr.Avatar = uu.Avatar
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

// AdminUpdate changes the role, status or community of usr.
func (svc *service) AdminUpdate(ctx context.Context, usr User, au AdminUpdate) (User, error) {
	if au.Role != "" {
		usr.Role = au.Role
	}
	if au.Status != "" {
		usr.Status = au.Status
	}
	if au.CommunityID != "" {
		usr.CommunityID = au.CommunityID
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	usr.LastLogin = time.Now().UTC().Truncate(time.Microsecond) // postgres precision
	return svc.repo.UpdateUser(ctx, usr)
}

// SetPassword sets the password of usr, bypassing the password policy.
func (svc *service) SetPassword(ctx context.Context, usr User, pwd string) (User, error) {
	if err := usr.SetPassword(pwd); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateUser(ctx, usr)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	go svc.sendPasswordResetMail(usr)
	return nil
}

func (svc *service) sendPasswordResetMail(usr User) {
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Réinitialisation de votre mot de passe",
		CommunityID:  usr.CommunityID,
		TemplateName: "password_reset",
		TemplateData: map[string]string{
			"Name":  usr.Name,
			"UID":   EncodeUID(usr),
			"Token": makeToken(usr),
		},
	})
}

func (svc *service) sendWelcomeMail(usr User) {
	data := map[string]string{"Name": usr.Name, "FamilyCode": ""}
	if usr.IsHeadOfFamily {
		data["FamilyCode"] = usr.FamilyID
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Bienvenue dans votre quartier",
		CommunityID:  usr.CommunityID,
		TemplateName: "welcome",
		TemplateData: data,
	})
}

// ResetPassword sets a new password from a password reset token. data must have been validated.
func (svc *service) ResetPassword(ctx context.Context, data ResetUserPassword) (User, error) {
	invalidErr := core.NewValidationError(errors.New("Lien de réinitialisation invalide ou expiré."))

	id, err := decodeUID(data.UID)
	if err != nil {
		return User{}, invalidErr
	}
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return User{}, invalidErr
		}
		return User{}, errors.Wrap(err, "finding user by ID")
	}
	if err = verifyToken(usr, data.Token); err != nil {
		return User{}, invalidErr
	}
	return svc.SetPassword(ctx, usr, data.Password)
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteUsersByID(ctx, ids...)
}
