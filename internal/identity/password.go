package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// User is a stored account record.
type User struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	SignInMethod  string
	EmailVerified bool
	CreatedAt     time.Time
}

// UserStore is the persistence interface for accounts. The Get
// methods return ErrNoAccount for missing users; any other error is
// an infrastructure failure.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, id string) (User, error)
	CreateUser(ctx context.Context, user User) error
	SetVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	VerifyEmail(ctx context.Context, token string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// Mailer delivers verification and reset mail. nil disables delivery.
type Mailer interface {
	SendVerification(to, name, link string) error
	SendPasswordReset(to, link string) error
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	minPasswordLen = 8

	signInWindow      = 15 * time.Minute
	signInMaxAttempts = 10
)

// Service implements the identity provider over a UserStore.
type Service struct {
	users   UserStore
	mail    Mailer
	baseURL string

	mu       sync.Mutex
	attempts map[string][]time.Time
	now      func() time.Time
}

// NewService creates the provider. baseURL anchors verification and
// reset links in outgoing mail.
func NewService(users UserStore, mail Mailer, baseURL string) *Service {
	return &Service{
		users:    users,
		mail:     mail,
		baseURL:  strings.TrimRight(baseURL, "/"),
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func sessionFor(user User) Session {
	return Session{
		UserID:        user.ID,
		DisplayName:   user.DisplayName,
		Email:         user.Email,
		SignInMethod:  user.SignInMethod,
		EmailVerified: user.EmailVerified,
	}
}

// SignUp creates a password account and sends the verification mail.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return Session{}, ErrMalformedEmail
	}
	if len(password) < minPasswordLen {
		return Session{}, ErrWeakCredential
	}
	if _, err := s.users.GetUserByEmail(ctx, email); err == nil {
		return Session{}, ErrAlreadyRegistered
	} else if !errors.Is(err, ErrNoAccount) {
		return Session{}, fmt.Errorf("look up account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Session{}, fmt.Errorf("hash password: %w", err)
	}

	user := User{
		ID:           generateID(),
		Email:        email,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: string(hash),
		SignInMethod: MethodPassword,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return Session{}, fmt.Errorf("create user: %w", err)
	}

	if err := s.SendVerificationEmail(ctx, user.ID); err != nil {
		log.Warnf("identity: verification mail for %s: %v", user.ID, err)
	}
	return sessionFor(user), nil
}

// SignIn authenticates a password account. Unverified accounts sign
// in successfully; the access gate keeps them out of protected pages
// until they confirm their email.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return Session{}, ErrMalformedEmail
	}
	if s.throttled(email) {
		return Session{}, ErrRateLimited
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNoAccount) {
		s.recordAttempt(email)
		return Session{}, ErrNoAccount
	}
	if err != nil {
		return Session{}, fmt.Errorf("look up account: %w", err)
	}
	if user.SignInMethod != MethodPassword {
		return Session{}, ErrFederatedAccount
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordAttempt(email)
		return Session{}, ErrWrongCredential
	}

	s.clearAttempts(email)
	return sessionFor(user), nil
}

// SignInFederated records a federated sign-in, creating the account
// on first use. Federated emails arrive verified by the provider.
func (s *Service) SignInFederated(ctx context.Context, subject, email, name string) (Session, error) {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return Session{}, ErrMalformedEmail
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err == nil {
		return sessionFor(user), nil
	}
	if !errors.Is(err, ErrNoAccount) {
		return Session{}, fmt.Errorf("look up account: %w", err)
	}

	user = User{
		ID:            subject,
		Email:         email,
		DisplayName:   strings.TrimSpace(name),
		SignInMethod:  MethodFederated,
		EmailVerified: true,
	}
	if user.ID == "" {
		user.ID = generateID()
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return Session{}, fmt.Errorf("create federated user: %w", err)
	}
	return sessionFor(user), nil
}

// ListSignInMethods returns the methods registered for an email, or
// an empty list for unknown accounts.
func (s *Service) ListSignInMethods(ctx context.Context, email string) ([]string, error) {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, ErrMalformedEmail
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNoAccount) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up account: %w", err)
	}
	return []string{user.SignInMethod}, nil
}

// SendVerificationEmail issues a fresh verification token and mails
// the confirmation link.
func (s *Service) SendVerificationEmail(ctx context.Context, userID string) error {
	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, ErrNoAccount) {
		return ErrNoAccount
	}
	if err != nil {
		return fmt.Errorf("look up account: %w", err)
	}
	if user.EmailVerified {
		return nil
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("generate verification token: %w", err)
	}
	if err := s.users.SetVerificationToken(ctx, user.ID, token, s.now().Add(24*time.Hour)); err != nil {
		return fmt.Errorf("store verification token: %w", err)
	}

	if s.mail == nil {
		return nil
	}
	link := s.baseURL + "/verify-email?token=" + token
	return s.mail.SendVerification(user.Email, user.DisplayName, link)
}

// VerifyEmail confirms an address using a verification token.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("verification token required")
	}
	if err := s.users.VerifyEmail(ctx, token); err != nil {
		return fmt.Errorf("invalid or expired verification token")
	}
	return nil
}

// SendPasswordReset issues a reset token after a preflight on the
// account's sign-in methods: federated-only accounts are directed
// back to their provider, and accounts without a password method
// count as absent.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return ErrMalformedEmail
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNoAccount) {
		return ErrNoAccount
	}
	if err != nil {
		return fmt.Errorf("look up account: %w", err)
	}
	if user.SignInMethod == MethodFederated {
		return ErrFederatedAccount
	}
	if user.SignInMethod != MethodPassword {
		return ErrNoAccount
	}

	token, err := generateToken()
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.users.CreatePasswordReset(ctx, user.ID, token, s.now().Add(time.Hour)); err != nil {
		return fmt.Errorf("store reset token: %w", err)
	}

	if s.mail == nil {
		return nil
	}
	link := s.baseURL + "/reset-password?token=" + token
	return s.mail.SendPasswordReset(user.Email, link)
}

// ResetPassword sets a new password using a reset token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < minPasswordLen {
		return ErrWeakCredential
	}
	userID, err := s.users.GetPasswordReset(ctx, token)
	if err != nil {
		return fmt.Errorf("invalid or expired reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.users.MarkPasswordResetUsed(ctx, token); err != nil {
		log.Warnf("identity: mark reset token used: %v", err)
	}
	return nil
}

func (s *Service) throttled(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-signInWindow)
	recent := s.attempts[email][:0]
	for _, at := range s.attempts[email] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	s.attempts[email] = recent
	return len(recent) >= signInMaxAttempts
}

func (s *Service) recordAttempt(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[email] = append(s.attempts[email], s.now())
}

func (s *Service) clearAttempts(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, email)
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func generateID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
