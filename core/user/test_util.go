package user

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/monquartier/monquartier/core"
)

// serviceMock is the Service of the tests: reset mails leave before RequestPasswordReset
// returns, and new families get predictable codes, FAM-TEST01, FAM-TEST02...
type serviceMock struct {
	service
	families int32
}

func NewServiceMock(repo Repository, mailSvc core.EmailService, conf *core.Config, logger core.Logger) Service {
	configure(conf)
	svc := &serviceMock{
		service: service{
			repo:    repo,
			mailSvc: mailSvc,
			logger:  logger,
		},
	}
	svc.familyCodes = svc.nextFamilyCode
	return svc
}

func (svc *serviceMock) nextFamilyCode() (string, error) {
	n := atomic.AddInt32(&svc.families, 1)
	return fmt.Sprintf("%sTEST%02d", familyCodePrefix, n), nil
}

func (svc *serviceMock) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	svc.sendPasswordResetMail(usr)
	return nil
}
