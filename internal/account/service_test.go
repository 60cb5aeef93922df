package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Ussu1112/back-officener/internal/auth"
	"github.com/Ussu1112/back-officener/internal/directory"
)

type blacklistEntry struct {
	email string
	ttl   time.Duration
}

type fakeCache struct {
	mu        sync.Mutex
	codes     map[string]string
	ttls      map[string]time.Duration
	blacklist map[string]blacklistEntry

	hasCalls     int
	readCalls    int
	blacklistErr error
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		codes:     map[string]string{},
		ttls:      map[string]time.Duration{},
		blacklist: map[string]blacklistEntry{},
	}
}

func (c *fakeCache) PhoneCode(_ context.Context, phone string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readCalls++
	code, ok := c.codes[phone]
	return code, ok, nil
}

func (c *fakeCache) SetPhoneCode(_ context.Context, phone, code string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[phone] = code
	c.ttls[phone] = ttl
	return nil
}

func (c *fakeCache) HasPhoneCode(_ context.Context, phone string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hasCalls++
	_, ok := c.codes[phone]
	return ok, nil
}

func (c *fakeCache) Blacklist(_ context.Context, token, email string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.blacklistErr != nil {
		return c.blacklistErr
	}
	c.blacklist[token] = blacklistEntry{email: email, ttl: ttl}
	return nil
}

func (c *fakeCache) IsBlacklisted(_ context.Context, token string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.blacklist[token]
	return ok, nil
}

type fixture struct {
	svc    *Service
	store  *directory.MemoryStore
	cache  *fakeCache
	tokens *auth.Tokens
	now    time.Time
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: directory.NewMemoryStore(),
		cache: newFakeCache(),
		now:   time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	tokens, err := auth.NewTokens("test-secret",
		auth.WithIssuer("officener"),
		auth.WithTTL(time.Hour),
		auth.WithClock(func() time.Time { return f.now }),
	)
	require.NoError(t, err)
	f.tokens = tokens

	b := f.store.AddBuilding("Central Tower", "1 Main St")
	f.store.AddCompany(b, "Acme", "1201")
	f.store.AddCompany(b, "Globex", "1502")
	f.store.AddBuilding("Riverside Plaza", "9 River Rd")

	f.svc = NewService(f.store, f.cache, tokens, opts...)
	return f
}

func validSignUp() SignUpRequest {
	return SignUpRequest{
		Email:        "kim@example.com",
		Password:     "s3cret!",
		Name:         "Kim",
		PhoneNumber:  "010-1234-5678",
		BuildingName: "Central Tower",
		CompanyName:  "Acme",
	}
}

func TestSearchBuildings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.svc.SearchBuildings(ctx, "tower")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "Central Tower", got[0].BuildingName)
	require.Len(t, got[0].Offices, 2)
	require.Equal(t, "Acme", got[0].Offices[0].OfficeName)
	require.Equal(t, "1201", got[0].Offices[0].OfficeNum)

	none, err := f.svc.SearchBuildings(ctx, "nowhere")
	require.NoError(t, err)
	require.NotNil(t, none)
	require.Empty(t, none)

	blank, err := f.svc.SearchBuildings(ctx, "   ")
	require.NoError(t, err)
	require.NotNil(t, blank)
	require.Empty(t, blank)

	plaza, err := f.svc.SearchBuildings(ctx, "Plaza")
	require.NoError(t, err)
	require.Len(t, plaza, 1)
	require.NotNil(t, plaza[0].Offices)
	require.Empty(t, plaza[0].Offices)
}

func TestRequestPhoneVerificationRotatesCode(t *testing.T) {
	seq := []string{"111111", "111111", "111111", "222222"}
	var i int
	gen := func() (string, error) {
		code := seq[i]
		i++
		return code, nil
	}
	f := newFixture(t, WithCodeGenerator(gen), WithCodeTTL(2*time.Minute))
	ctx := context.Background()
	phone := "010-0000-0000"

	first, err := f.svc.RequestPhoneVerification(ctx, phone)
	require.NoError(t, err)
	require.Equal(t, "111111", first)
	require.Equal(t, 2*time.Minute, f.cache.ttls[phone])

	second, err := f.svc.RequestPhoneVerification(ctx, phone)
	require.NoError(t, err)
	require.Equal(t, "222222", second)
	require.NotEqual(t, first, second)

	require.ErrorIs(t, f.svc.ConfirmVerification(ctx, phone, first), ErrCodeMismatch)
	require.NoError(t, f.svc.ConfirmVerification(ctx, phone, second))
}

func TestRequestPhoneVerificationWithRandomCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.RequestPhoneVerification(ctx, "010-1111-2222")
	require.NoError(t, err)
	require.Len(t, first, codeDigits)
	second, err := f.svc.RequestPhoneVerification(ctx, "010-1111-2222")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestRequestPhoneVerificationRejectsRegisteredNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	_, err = f.svc.RequestPhoneVerification(ctx, "010-1234-5678")
	require.ErrorIs(t, err, ErrDuplicatePhone)
	require.Equal(t, KindDuplicate, KindOf(err))

	_, err = f.svc.RequestPhoneVerification(ctx, " ")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestConfirmVerificationWithoutPendingCode(t *testing.T) {
	f := newFixture(t)
	err := f.svc.ConfirmVerification(context.Background(), "010-9999-9999", "123456")
	require.ErrorIs(t, err, ErrNotVerified)
	require.Equal(t, KindNotVerified, KindOf(err))
	require.Equal(t, 1, f.cache.hasCalls)
	require.Zero(t, f.cache.readCalls)
}

func TestConfirmVerificationChecksPendingBeforeComparing(t *testing.T) {
	f := newFixture(t, WithCodeGenerator(func() (string, error) { return "424242", nil }))
	ctx := context.Background()
	_, err := f.svc.RequestPhoneVerification(ctx, "010-2222-3333")
	require.NoError(t, err)
	hasBefore, readBefore := f.cache.hasCalls, f.cache.readCalls

	require.NoError(t, f.svc.ConfirmVerification(ctx, "010-2222-3333", "424242"))
	require.Equal(t, hasBefore+1, f.cache.hasCalls)
	require.Equal(t, readBefore+1, f.cache.readCalls)
}

func TestSignUpPersistsHashedUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := validSignUp()
	req.Email = "  Kim@Example.COM "
	user, err := f.svc.SignUp(ctx, req)
	require.NoError(t, err)
	require.NotZero(t, user.ID)
	require.Equal(t, "kim@example.com", user.Email)
	require.NotEqual(t, "s3cret!", user.PasswordHash)
	require.NoError(t, auth.VerifyPassword(user.PasswordHash, "s3cret!"))
	require.Equal(t, 1, f.store.Creates())
}

func TestSignUpFailuresDoNotPersist(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SignUpRequest)
		want   error
	}{
		{"unknown building", func(r *SignUpRequest) { r.BuildingName = "Nope" }, ErrBuildingNotFound},
		{"unknown company", func(r *SignUpRequest) { r.CompanyName = "Nope" }, ErrCompanyNotFound},
		{"duplicate email", func(r *SignUpRequest) { r.PhoneNumber = "010-5555-5555" }, ErrDuplicateEmail},
		{"duplicate phone", func(r *SignUpRequest) { r.Email = "other@example.com" }, ErrDuplicatePhone},
		{"blank name", func(r *SignUpRequest) { r.Name = "" }, ErrInvalidInput},
		{"bad email", func(r *SignUpRequest) { r.Email = "nope" }, ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.svc.SignUp(ctx, validSignUp())
			require.NoError(t, err)

			req := validSignUp()
			tc.mutate(&req)
			_, err = f.svc.SignUp(ctx, req)
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, 1, f.store.Creates())
		})
	}
}

func TestSignUpChecksBuildingBeforeEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	req := validSignUp()
	req.BuildingName = "Nope"
	_, err = f.svc.SignUp(ctx, req)
	require.ErrorIs(t, err, ErrBuildingNotFound)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, "KIM@example.com", "s3cret!")
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	require.Equal(t, "Central Tower", res.Building.BuildingName)
	require.Equal(t, "Acme", res.Office.OfficeName)
	require.Equal(t, f.now.Add(time.Hour), res.ExpiresAt)

	claims, err := f.tokens.Parse(res.Token)
	require.NoError(t, err)
	require.Equal(t, "kim@example.com", claims.Subject)
}

func TestLoginFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, "kim@example.com", "wrong")
	require.ErrorIs(t, err, ErrInvalidPassword)
	require.Nil(t, res)
	require.Equal(t, KindInvalidPassword, KindOf(err))

	res, err = f.svc.Login(ctx, "ghost@example.com", "s3cret!")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.Nil(t, res)
}

func TestLogoutBlacklistsForRemainingValidity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)
	res, err := f.svc.Login(ctx, "kim@example.com", "s3cret!")
	require.NoError(t, err)

	f.now = f.now.Add(25 * time.Minute)
	principal, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, principal, "Bearer "+res.Token))
	entry, ok := f.cache.blacklist[res.Token]
	require.True(t, ok)
	require.Equal(t, "kim@example.com", entry.email)
	require.Equal(t, 35*time.Minute, entry.ttl)

	_, err = f.svc.Authenticate(ctx, res.Token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestLogoutUsesTokenFromContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)
	res, err := f.svc.Login(ctx, "kim@example.com", "s3cret!")
	require.NoError(t, err)
	principal, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)

	ctx = auth.ContextWithToken(ctx, res.Token)
	require.NoError(t, f.svc.Logout(ctx, principal, ""))
	entry, ok := f.cache.blacklist[res.Token]
	require.True(t, ok)
	require.Equal(t, time.Hour, entry.ttl)
}

func TestLogoutLogsCacheFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	f := newFixture(t, WithLogger(zap.New(core)))
	ctx := context.Background()
	_, err := f.svc.SignUp(ctx, validSignUp())
	require.NoError(t, err)
	res, err := f.svc.Login(ctx, "kim@example.com", "s3cret!")
	require.NoError(t, err)
	principal, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)

	f.cache.blacklistErr = errors.New("redis unavailable")
	err = f.svc.Logout(ctx, principal, "Bearer "+res.Token)
	require.ErrorContains(t, err, "redis unavailable")

	entries := logs.FilterMessage("blacklist token").All()
	require.Len(t, entries, 1)
	require.Equal(t, principal.UserID, entries[0].ContextMap()["user_id"])
}

func TestLogoutRejectsMissingBearer(t *testing.T) {
	f := newFixture(t)
	err := f.svc.Logout(context.Background(), auth.Principal{}, "")
	require.ErrorIs(t, err, auth.ErrMissingToken)
	require.Empty(t, f.cache.blacklist)
}

func TestAuthenticateRejectsUnknownUser(t *testing.T) {
	f := newFixture(t)
	token, _, err := f.tokens.Issue("ghost@example.com")
	require.NoError(t, err)

	_, err = f.svc.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = f.svc.Authenticate(context.Background(), "garbage")
	require.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestErrorKinds(t *testing.T) {
	wrapped := fmt.Errorf("signup: %w", ErrDuplicateEmail)
	require.True(t, errors.Is(wrapped, ErrDuplicateEmail))
	require.False(t, errors.Is(wrapped, ErrDuplicatePhone))
	require.Equal(t, KindDuplicate, KindOf(wrapped))
	require.Equal(t, "duplicate_email", CodeOf(wrapped))
	require.Equal(t, KindUnknown, KindOf(errors.New("boom")))
	require.Equal(t, "not_found", KindNotFound.String())
}
