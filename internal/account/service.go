package account

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Ussu1112/back-officener/internal/audit"
	"github.com/Ussu1112/back-officener/internal/auth"
	"github.com/Ussu1112/back-officener/internal/directory"
)

const (
	defaultCodeTTL  = 3 * time.Minute
	codeDigits      = 6
	maxCodeAttempts = 16
)

// VerificationCache is the short-lived key/value store behind phone
// verification and the logout blacklist.
type VerificationCache interface {
	PhoneCode(ctx context.Context, phone string) (string, bool, error)
	SetPhoneCode(ctx context.Context, phone, code string, ttl time.Duration) error
	HasPhoneCode(ctx context.Context, phone string) (bool, error)
	Blacklist(ctx context.Context, token, email string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, token string) (bool, error)
}

// TokenService issues and inspects bearer tokens.
type TokenService interface {
	Issue(email string) (string, time.Time, error)
	Parse(token string) (*auth.Claims, error)
	Remaining(token string) (time.Duration, error)
}

// Service implements signup, phone verification, login, logout and the
// building directory search.
type Service struct {
	store   directory.Store
	cache   VerificationCache
	tokens  TokenService
	codeTTL time.Duration
	newCode func() (string, error)
	logger  *zap.Logger
	tracer  trace.Tracer
}

// Option configures Service.
type Option func(*Service)

// WithCodeTTL sets how long a verification code stays valid.
func WithCodeTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.codeTTL = ttl
		}
	}
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(fn func() (string, error)) Option {
	return func(s *Service) {
		if fn != nil {
			s.newCode = fn
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService wires dependencies.
func NewService(store directory.Store, cache VerificationCache, tokens TokenService, opts ...Option) *Service {
	s := &Service{
		store:   store,
		cache:   cache,
		tokens:  tokens,
		codeTTL: defaultCodeTTL,
		newCode: randomCode,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer("github.com/Ussu1112/back-officener/internal/account"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SearchBuildings returns buildings whose name contains keyword, each with its
// companies. A blank keyword yields an empty result.
func (s *Service) SearchBuildings(ctx context.Context, keyword string) ([]BuildingWithCompanies, error) {
	ctx, span := s.tracer.Start(ctx, "account.SearchBuildings")
	defer span.End()

	result := []BuildingWithCompanies{}
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return result, nil
	}
	buildings, err := s.store.Buildings(ctx).SearchByName(ctx, keyword)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	companies := s.store.Companies(ctx)
	for _, b := range buildings {
		list, err := companies.ListByBuilding(ctx, b.ID)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		offices := make([]CompanySummary, 0, len(list))
		for _, c := range list {
			offices = append(offices, companySummary(c))
		}
		result = append(result, BuildingWithCompanies{
			BuildingSummary: buildingSummary(b),
			Offices:         offices,
		})
	}
	span.SetAttributes(attribute.Int("result.count", len(result)))
	return result, nil
}

// RequestPhoneVerification issues a verification code for phone, rotating any
// code that is still pending.
func (s *Service) RequestPhoneVerification(ctx context.Context, phone string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "account.RequestPhoneVerification")
	defer span.End()

	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", invalidInput("phone number is required")
	}
	taken, err := s.store.Users(ctx).ExistsByPhone(ctx, phone)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	if taken {
		return "", ErrDuplicatePhone
	}

	previous, pending, err := s.cache.PhoneCode(ctx, phone)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	code, err := s.nextCode(previous, pending)
	if err != nil {
		return "", err
	}
	if err := s.cache.SetPhoneCode(ctx, phone, code, s.codeTTL); err != nil {
		span.RecordError(err)
		return "", err
	}
	span.SetAttributes(attribute.Bool("code.rotated", pending))
	return code, nil
}

func (s *Service) nextCode(previous string, pending bool) (string, error) {
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return "", fmt.Errorf("generate verification code: %w", err)
		}
		if !pending || code != previous {
			return code, nil
		}
	}
	return "", errors.New("account: could not rotate verification code")
}

// ConfirmVerification checks code against the pending one for phone.
func (s *Service) ConfirmVerification(ctx context.Context, phone, code string) error {
	ctx, span := s.tracer.Start(ctx, "account.ConfirmVerification")
	defer span.End()

	phone = strings.TrimSpace(phone)
	has, err := s.cache.HasPhoneCode(ctx, phone)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("check pending verification code", zap.Error(err))
		return err
	}
	if !has {
		return ErrNotVerified
	}
	pending, ok, err := s.cache.PhoneCode(ctx, phone)
	if err != nil {
		span.RecordError(err)
		s.logger.Error("read verification code", zap.Error(err))
		return err
	}
	if !ok {
		// expired between the two reads
		return ErrNotVerified
	}
	if pending != strings.TrimSpace(code) {
		return ErrCodeMismatch
	}
	return nil
}

// SignUp registers a user bound to an existing building and company.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*directory.User, error) {
	ctx, span := s.tracer.Start(ctx, "account.SignUp")
	defer span.End()

	req = normalizeSignUp(req)
	if err := validateSignUp(req); err != nil {
		return nil, err
	}

	building, err := s.store.Buildings(ctx).FindByName(ctx, req.BuildingName)
	if err != nil {
		return nil, mapNotFound(err, ErrBuildingNotFound)
	}
	company, err := s.store.Companies(ctx).FindByName(ctx, req.CompanyName)
	if err != nil {
		return nil, mapNotFound(err, ErrCompanyNotFound)
	}

	users := s.store.Users(ctx)
	exists, err := users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateEmail
	}
	exists, err = users.ExistsByPhone(ctx, req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicatePhone
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &directory.User{
		Email:        req.Email,
		PhoneNumber:  req.PhoneNumber,
		PasswordHash: hash,
		Name:         req.Name,
		BuildingID:   building.ID,
		CompanyID:    company.ID,
		Building:     building,
		Company:      company,
	}
	if err := users.Create(ctx, user); err != nil {
		span.RecordError(err)
		s.logger.Error("create user", zap.String("email", user.Email), zap.Error(err))
		return nil, err
	}

	_ = audit.LogEvent(ctx, "account.signup", map[string]any{
		"user_id":     user.ID,
		"building_id": building.ID,
		"company_id":  company.ID,
	})
	return user, nil
}

// Login verifies credentials and issues a bearer token keyed to the email.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx, span := s.tracer.Start(ctx, "account.Login")
	defer span.End()

	email = normalizeEmail(email)
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		return nil, mapNotFound(err, ErrUserNotFound)
	}
	if err := auth.VerifyPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, ErrInvalidPassword
		}
		return nil, err
	}

	token, exp, err := s.tokens.Issue(user.Email)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res := &LoginResult{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		PhoneNumber: user.PhoneNumber,
		Token:       token,
		ExpiresAt:   exp,
	}
	if user.Building != nil {
		res.Building = buildingSummary(user.Building)
	}
	if user.Company != nil {
		res.Office = companySummary(user.Company)
	}

	_ = audit.LogEvent(ctx, "account.login", map[string]any{"user_id": user.ID})
	return res, nil
}

// Logout blacklists the presented bearer token for exactly its remaining
// validity. The token already resolved by the authentication middleware is
// preferred; the Authorization header is parsed only when it is absent.
func (s *Service) Logout(ctx context.Context, principal auth.Principal, authorization string) error {
	ctx, span := s.tracer.Start(ctx, "account.Logout")
	defer span.End()

	token, ok := auth.TokenFromContext(ctx)
	if !ok {
		var err error
		if token, err = auth.BearerToken(authorization); err != nil {
			return err
		}
	}
	remaining, err := s.tokens.Remaining(token)
	if err != nil {
		return err
	}
	if remaining <= 0 {
		return nil
	}
	if err := s.cache.Blacklist(ctx, token, principal.Email, remaining); err != nil {
		span.RecordError(err)
		s.logger.Error("blacklist token", zap.Int64("user_id", principal.UserID), zap.Error(err))
		return err
	}

	_ = audit.LogEvent(ctx, "account.logout", map[string]any{
		"user_id":     principal.UserID,
		"ttl_seconds": int64(remaining / time.Second),
	})
	return nil
}

// Authenticate resolves the principal behind a bearer token. Blacklisted,
// malformed and expired tokens, and tokens of deleted users, are rejected
// with auth.ErrInvalidToken.
func (s *Service) Authenticate(ctx context.Context, token string) (auth.Principal, error) {
	revoked, err := s.cache.IsBlacklisted(ctx, token)
	if err != nil {
		s.logger.Error("check token blacklist", zap.Error(err))
		return auth.Principal{}, err
	}
	if revoked {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return auth.Principal{}, auth.ErrInvalidToken
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return auth.Principal{}, auth.ErrInvalidToken
		}
		return auth.Principal{}, err
	}
	return auth.Principal{UserID: user.ID, Email: user.Email, Name: user.Name}, nil
}

func mapNotFound(err, domainErr error) error {
	if errors.Is(err, directory.ErrNotFound) {
		return domainErr
	}
	return err
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeSignUp(req SignUpRequest) SignUpRequest {
	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.BuildingName = strings.TrimSpace(req.BuildingName)
	req.CompanyName = strings.TrimSpace(req.CompanyName)
	return req
}

func validateSignUp(req SignUpRequest) error {
	switch {
	case req.Email == "" || !strings.Contains(req.Email, "@"):
		return invalidInput("a valid email is required")
	case req.Password == "":
		return invalidInput("password is required")
	case req.Name == "":
		return invalidInput("name is required")
	case req.PhoneNumber == "":
		return invalidInput("phone number is required")
	case req.BuildingName == "":
		return invalidInput("building name is required")
	case req.CompanyName == "":
		return invalidInput("company name is required")
	}
	return nil
}

func buildingSummary(b *directory.Building) BuildingSummary {
	return BuildingSummary{ID: b.ID, BuildingName: b.Name, BuildingAddress: b.Address}
}

func companySummary(c *directory.Company) CompanySummary {
	return CompanySummary{ID: c.ID, OfficeName: c.Name, OfficeNum: c.Address}
}

func randomCode() (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < codeDigits; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
