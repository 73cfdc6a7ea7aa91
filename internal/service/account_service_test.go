package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/diagnosis/userhub/internal/domain"
	"github.com/diagnosis/userhub/pkg/events"
)

func TestRegisterPasswordFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, validRegister("Ada@Example.com", "5551234567"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Role != domain.RoleUser || u.IsVerified {
		t.Fatalf("identity = role %s verified %v, want user/false", u.Role, u.IsVerified)
	}
	if u.EmailValue() != "ada@example.com" {
		t.Fatalf("email not normalized: %q", u.EmailValue())
	}
	if u.PasswordHash == nil || *u.PasswordHash == "correct horse" {
		t.Fatal("password must be stored hashed")
	}

	_, err = f.svc.Register(ctx, validRegister("ada@example.com", "5559999999"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate email: err = %v, want ErrConflict", err)
	}
	_, err = f.svc.Register(ctx, validRegister("other@example.com", "5551234567"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("duplicate phone: err = %v, want ErrConflict", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	req := validRegister("not-an-email", "123")
	req.Password = "abc"

	_, err := f.svc.Register(context.Background(), req)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	for _, field := range []string{"email", "phoneNumber", "password"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("missing field error for %s", field)
		}
	}
}

func TestPhoneOTPRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.RequestPhoneOTP(ctx, &domain.PhoneOTPRequest{PhoneNumber: "555-123-4567"}); err != nil {
		t.Fatalf("RequestPhoneOTP: %v", err)
	}
	code := f.sms.code("5551234567")

	pending, _ := f.repo.FindByPhone(ctx, "5551234567")
	if pending == nil || pending.State() != domain.StateUnverified {
		t.Fatalf("pending identity = %+v", pending)
	}

	u, err := f.svc.VerifyPhoneAndRegister(ctx, &domain.VerifyPhoneRegisterRequest{
		PhoneNumber: "5551234567",
		OTP:         code,
		FirstName:   "Grace",
		LastName:    "Hopper",
		Email:       "grace@example.com",
		Password:    "cobol4ever",
	})
	if err != nil {
		t.Fatalf("VerifyPhoneAndRegister: %v", err)
	}
	if !u.IsVerified || u.OTP != nil || u.OTPExpiry != nil {
		t.Fatalf("verified identity still carries otp state: %+v", u)
	}
	if u.State() != domain.StateActive || u.Role != domain.RoleUser || u.ID != pending.ID {
		t.Fatalf("identity = %+v", u)
	}

	// The same code cannot be replayed.
	_, err = f.svc.VerifyPhoneAndRegister(ctx, &domain.VerifyPhoneRegisterRequest{
		PhoneNumber: "5551234567", OTP: code, FirstName: "Eve", LastName: "Hacker", Password: "pwned",
	})
	if !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("replay: err = %v, want ErrInvalidOTP", err)
	}

	login, err := f.svc.Login(ctx, &domain.LoginRequest{PhoneNumber: "5551234567", Password: "cobol4ever"})
	if err != nil || login.Token == "" {
		t.Fatalf("login after phone registration: %v", err)
	}
}

func TestPhoneOTPSecondRequestInvalidatesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.codes.push("111111", "222222")

	for i := 0; i < 2; i++ {
		if err := f.svc.RequestPhoneOTP(ctx, &domain.PhoneOTPRequest{PhoneNumber: "5551234567"}); err != nil {
			t.Fatal(err)
		}
	}

	req := &domain.VerifyPhoneRegisterRequest{
		PhoneNumber: "5551234567", OTP: "111111", FirstName: "Ada", LastName: "Byron", Password: "secret",
	}
	if _, err := f.svc.VerifyPhoneAndRegister(ctx, req); !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("first code: err = %v, want ErrInvalidOTP", err)
	}
	req.OTP = "222222"
	if _, err := f.svc.VerifyPhoneAndRegister(ctx, req); err != nil {
		t.Fatalf("second code: %v", err)
	}
}

func TestPhoneOTPExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.RequestPhoneOTP(ctx, &domain.PhoneOTPRequest{PhoneNumber: "5551234567"}); err != nil {
		t.Fatal(err)
	}
	code := f.sms.code("5551234567")
	f.clock.Advance(5*time.Minute + time.Second)

	_, err := f.svc.VerifyPhoneAndRegister(ctx, &domain.VerifyPhoneRegisterRequest{
		PhoneNumber: "5551234567", OTP: code, FirstName: "Ada", LastName: "Byron", Password: "secret",
	})
	if !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("err = %v, want ErrInvalidOTP", err)
	}
}

func TestPhoneVerifyUnknownNumber(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.VerifyPhoneAndRegister(context.Background(), &domain.VerifyPhoneRegisterRequest{
		PhoneNumber: "5550000000", OTP: "123456", FirstName: "Ada", LastName: "Byron", Password: "secret",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPhoneOTPDeliveryFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sms.err = errors.New("carrier rejected")

	err := f.svc.RequestPhoneOTP(ctx, &domain.PhoneOTPRequest{PhoneNumber: "5551234567"})
	if !errors.Is(err, domain.ErrDependency) {
		t.Fatalf("err = %v, want ErrDependency", err)
	}

	// The stored code is not rolled back.
	_, err = f.svc.VerifyPhoneAndRegister(ctx, &domain.VerifyPhoneRegisterRequest{
		PhoneNumber: "5551234567", OTP: f.sms.code("5551234567"), FirstName: "Ada", LastName: "Byron", Password: "secret",
	})
	if err != nil {
		t.Fatalf("code stored before failed send should verify: %v", err)
	}
}

func TestEmailOTPGatedRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.RegisterWithVerifiedEmail(ctx, validRegister("a@b.com", "5551234567"))
	if !errors.Is(err, domain.ErrEmailNotVerified) {
		t.Fatalf("before verification: err = %v, want ErrEmailNotVerified", err)
	}

	if err := f.svc.RequestEmailOTP(ctx, &domain.EmailOTPRequest{Email: "a@b.com"}); err != nil {
		t.Fatal(err)
	}
	right := f.mailer.code("a@b.com")
	wrong := "000000"
	if right == wrong {
		wrong = "999999"
	}

	if err := f.svc.VerifyEmailOTP(ctx, &domain.VerifyEmailOTPRequest{Email: "a@b.com", OTP: wrong}); !errors.Is(err, domain.ErrInvalidOTP) {
		t.Fatalf("wrong code: err = %v", err)
	}
	if err := f.svc.VerifyEmailOTP(ctx, &domain.VerifyEmailOTPRequest{Email: "A@B.com", OTP: right}); err != nil {
		t.Fatalf("right code: %v", err)
	}

	u, err := f.svc.RegisterWithVerifiedEmail(ctx, validRegister("a@b.com", "5551234567"))
	if err != nil {
		t.Fatalf("RegisterWithVerifiedEmail: %v", err)
	}
	if !u.IsVerified || u.Role != domain.RoleUser {
		t.Fatalf("identity = %+v", u)
	}

	_, err = f.svc.RegisterWithVerifiedEmail(ctx, validRegister("a@b.com", "5559876543"))
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second registration: err = %v, want ErrConflict", err)
	}
}

func TestEmailOTPExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.RequestEmailOTP(ctx, &domain.EmailOTPRequest{Email: "a@b.com"}); err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(6 * time.Minute)

	err := f.svc.VerifyEmailOTP(ctx, &domain.VerifyEmailOTPRequest{Email: "a@b.com", OTP: f.mailer.code("a@b.com")})
	if !errors.Is(err, domain.ErrOTPExpired) {
		t.Fatalf("err = %v, want ErrOTPExpired", err)
	}
}

func TestLoginOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, validRegister("ada@example.com", "5551234567"))
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.Login(ctx, &domain.LoginRequest{Email: "nobody@example.com", Password: "correct horse"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown email: err = %v, want ErrNotFound", err)
	}
	_, err = f.svc.Login(ctx, &domain.LoginRequest{PhoneNumber: "5550000000", Password: "correct horse"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown phone: err = %v, want ErrNotFound", err)
	}
	_, err = f.svc.Login(ctx, &domain.LoginRequest{Email: "ada@example.com", Password: "wrong horse"})
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("bad password: err = %v, want ErrInvalidCredentials", err)
	}

	resp, err := f.svc.Login(ctx, &domain.LoginRequest{Email: "ada@example.com", Password: "correct horse"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.ExpiresIn != int64(time.Hour.Seconds()) {
		t.Fatalf("expires_in = %d", resp.ExpiresIn)
	}

	p, err := f.tokens.Verify(resp.Token)
	if err != nil {
		t.Fatalf("token does not verify: %v", err)
	}
	if p.IdentityID != u.ID || p.Role != domain.RoleUser {
		t.Fatalf("principal = %+v, want %s/user", p, u.ID)
	}
}

func TestLoginWithoutPasswordSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.svc.RequestPhoneOTP(ctx, &domain.PhoneOTPRequest{PhoneNumber: "5551234567"}); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Login(ctx, &domain.LoginRequest{PhoneNumber: "5551234567", Password: "anything"})
	if !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginComparesHashOnEveryPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Register(ctx, validRegister("ada@example.com", "5551234567")); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.RequestPhoneOTP(ctx, &domain.PhoneOTPRequest{PhoneNumber: "5559876543"}); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name string
		req  *domain.LoginRequest
		want error
	}{
		{"unknown email", &domain.LoginRequest{Email: "nobody@example.com", Password: "correct horse"}, domain.ErrNotFound},
		{"no password set", &domain.LoginRequest{PhoneNumber: "5559876543", Password: "correct horse"}, domain.ErrInvalidCredentials},
		{"wrong password", &domain.LoginRequest{Email: "ada@example.com", Password: "wrong horse"}, domain.ErrInvalidCredentials},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := f.passwords.verifyCount()
			_, err := f.svc.Login(ctx, tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if got := f.passwords.verifyCount() - before; got != 1 {
				t.Fatalf("hash comparisons = %d, want 1", got)
			}
		})
	}
}

func TestUpdateProfileEmailChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.RegisterWithVerifiedEmail(ctx, mustVerifyEmail(t, f, validRegister("old@example.com", "5551234567")))
	if err != nil {
		t.Fatal(err)
	}

	same := "old@example.com"
	_, err = f.svc.UpdateProfile(ctx, u.ID, &domain.UpdateProfileRequest{Email: &same})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("same email: err = %v, want ErrConflict", err)
	}

	fresh := "new@example.com"
	_, err = f.svc.UpdateProfile(ctx, u.ID, &domain.UpdateProfileRequest{Email: &fresh})
	if !errors.Is(err, domain.ErrEmailNotVerified) {
		t.Fatalf("unverified email: err = %v, want ErrEmailNotVerified", err)
	}
	unchanged, _ := f.repo.FindByID(ctx, u.ID)
	if unchanged.EmailValue() != "old@example.com" || !unchanged.IsVerified {
		t.Fatalf("failed update must not persist: %+v", unchanged)
	}

	mustVerifyEmail(t, f, &domain.RegisterRequest{Email: fresh})
	name := "Augusta"
	updated, err := f.svc.UpdateProfile(ctx, u.ID, &domain.UpdateProfileRequest{Email: &fresh, FirstName: &name})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.EmailValue() != fresh || updated.FirstName != name {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.IsVerified || updated.OTP != nil {
		t.Fatal("email change must reset verification state")
	}
}

func TestUpdateProfileEmailTakenByOther(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, _ := f.svc.Register(ctx, validRegister("a@example.com", "5551111111"))
	if _, err := f.svc.Register(ctx, validRegister("b@example.com", "5552222222")); err != nil {
		t.Fatal(err)
	}

	taken := "b@example.com"
	_, err := f.svc.UpdateProfile(ctx, a.ID, &domain.UpdateProfileRequest{Email: &taken})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	phone := "5552222222"
	_, err = f.svc.UpdateProfile(ctx, a.ID, &domain.UpdateProfileRequest{PhoneNumber: &phone})
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("phone: err = %v, want ErrConflict", err)
	}
}

func TestAdminUpdateSkipsVerificationGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, _ := f.svc.Register(ctx, validRegister("a@example.com", "5551111111"))
	email := "unverified@example.com"
	role := domain.RoleModerator

	updated, err := f.svc.AdminUpdate(ctx, u.ID, &domain.AdminUpdateRequest{
		UpdateProfileRequest: domain.UpdateProfileRequest{Email: &email},
		Role:                 &role,
	})
	if err != nil {
		t.Fatalf("AdminUpdate: %v", err)
	}
	if updated.EmailValue() != email || updated.Role != domain.RoleModerator {
		t.Fatalf("updated = %+v", updated)
	}

	if _, err := f.svc.AdminUpdate(ctx, "missing", &domain.AdminUpdateRequest{}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing: err = %v, want ErrNotFound", err)
	}
}

func TestDeleteIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, _ := f.svc.Register(ctx, validRegister("a@example.com", "5551111111"))
	if err := f.svc.DeleteIdentity(ctx, u.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := f.svc.DeleteIdentity(ctx, u.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second delete: err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.GetIdentity(ctx, u.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get after delete: err = %v", err)
	}
}

// An update that loads the identity and then loses it to a concurrent delete fails
// NotFound on save and publishes nothing.
func TestUpdateRacingDeleteIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, err := f.svc.Register(ctx, validRegister("a@example.com", "5551111111"))
	if err != nil {
		t.Fatal(err)
	}
	f.repo.beforeSave = func(id string) {
		f.repo.beforeSave = nil
		if err := f.svc.DeleteIdentity(ctx, id); err != nil {
			t.Errorf("concurrent delete: %v", err)
		}
	}

	first := "Grace"
	_, err = f.svc.UpdateProfile(ctx, u.ID, &domain.UpdateProfileRequest{FirstName: &first})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	for _, s := range f.events.subjects() {
		if s == events.IdentityUpdated {
			t.Fatal("update event published for a deleted identity")
		}
	}
	if _, err := f.repo.Save(ctx, u); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Save after Delete: err = %v, want ErrNotFound", err)
	}
}

func TestListUsersOnlyReturnsUserRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.Register(ctx, validRegister("u@example.com", "5551111111")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.RegisterAdmin(ctx, validRegister("admin@example.com", "5552222222")); err != nil {
		t.Fatal(err)
	}

	users, err := f.svc.ListUsers(ctx, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 1 || users[0].Role != domain.RoleUser {
		t.Fatalf("users = %+v", users)
	}
}

func TestEnsureAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.svc.EnsureAdmin(ctx, "", ""); err != nil {
		t.Fatalf("disabled seeding: %v", err)
	}
	if ok, _ := f.repo.ExistsWithRole(ctx, domain.RoleAdmin); ok {
		t.Fatal("no admin expected without credentials")
	}

	if err := f.svc.EnsureAdmin(ctx, "root@example.com", "bootstrap-pw"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if err := f.svc.EnsureAdmin(ctx, "other@example.com", "bootstrap-pw"); err != nil {
		t.Fatalf("second EnsureAdmin: %v", err)
	}
	if other, _ := f.repo.FindByEmail(ctx, "other@example.com"); other != nil {
		t.Fatal("seeding must be skipped once an admin exists")
	}

	resp, err := f.svc.Login(ctx, &domain.LoginRequest{Email: "root@example.com", Password: "bootstrap-pw"})
	if err != nil || resp.User.Role != domain.RoleAdmin {
		t.Fatalf("admin login: %+v %v", resp, err)
	}
}

func TestEventsPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	u, _ := f.svc.Register(ctx, validRegister("a@example.com", "5551111111"))
	_ = f.svc.DeleteIdentity(ctx, u.ID)
	_ = f.svc.RequestEmailOTP(ctx, &domain.EmailOTPRequest{Email: "b@example.com"})

	got := f.events.subjects()
	want := []string{events.IdentityRegistered, events.IdentityDeleted, events.OTPRequested}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events = %v, want %v", got, want)
		}
	}
}

func mustVerifyEmail(t *testing.T, f *fixture, req *domain.RegisterRequest) *domain.RegisterRequest {
	t.Helper()
	ctx := context.Background()
	if err := f.svc.RequestEmailOTP(ctx, &domain.EmailOTPRequest{Email: req.Email}); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.VerifyEmailOTP(ctx, &domain.VerifyEmailOTPRequest{Email: req.Email, OTP: f.mailer.code(req.Email)}); err != nil {
		t.Fatal(err)
	}
	return req
}
