package services

import (
	"errors"
	"strings"
	"time"

	"github.com/huangang/taskhub/internal/config"
	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/internal/utils"
	"github.com/huangang/taskhub/pkg/logger"
	"github.com/huangang/taskhub/pkg/response"
	"gorm.io/gorm"
)

const (
	AuthTypeLocal = "local"
	AuthTypeLDAP  = "ldap"
)

type AuthService struct {
	db          *gorm.DB
	ldapService *LDAPService
	jwtConfig   *config.JWTConfig
	mailer      Mailer
	resetTTL    time.Duration
}

// NewAuthService creates a new auth service instance.
func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig, ldapService *LDAPService, mailer Mailer, resetTTL time.Duration) *AuthService {
	if ldapService == nil {
		ldapService = NewLDAPService(nil)
	}
	if resetTTL <= 0 {
		resetTTL = 30 * time.Minute
	}
	return &AuthService{
		db:          db,
		ldapService: ldapService,
		jwtConfig:   jwtCfg,
		mailer:      mailer,
		resetTTL:    resetTTL,
	}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=6"`
	Email    string `json:"email" binding:"required,email"`
	Nickname string `json:"nickname" binding:"max=100"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	AuthType string `json:"auth_type"` // local, ldap
}

type LoginResult struct {
	AccessToken     string
	AccessExpireAt  time.Time
	RefreshToken    string
	RefreshExpireAt time.Time
	User            *models.User
}

type RefreshResult struct {
	AccessToken     string
	AccessExpireAt  time.Time
	RefreshToken    string
	RefreshExpireAt time.Time
}

type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// Register creates a local account.
func (s *AuthService) Register(req *RegisterRequest) (*models.User, error) {
	username := strings.TrimSpace(req.Username)
	email := normalizeEmail(req.Email)

	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, response.NewConflict("username is already taken")
	}
	if err := s.db.Model(&models.User{}).Where("LOWER(email) = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, response.NewConflict("email is already registered")
	}

	hashed, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	user := models.User{
		Username: username,
		Password: hashed,
		Email:    email,
		Nickname: req.Nickname,
		Role:     models.UserRoleUser,
		AuthType: AuthTypeLocal,
		IsActive: true,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	logger.Info().Uint("user_id", user.ID).Str("username", user.Username).Msg("[Auth] user registered")
	return &user, nil
}

// Login authenticates a user and issues an access token and a refresh token.
func (s *AuthService) Login(req *LoginRequest, clientIP, userAgent string) (*LoginResult, error) {
	var user *models.User
	var err error

	if req.AuthType == "" {
		req.AuthType = AuthTypeLocal
	}

	switch req.AuthType {
	case AuthTypeLocal:
		user, err = s.localAuth(req.Username, req.Password)
	case AuthTypeLDAP:
		user, err = s.ldapAuth(req.Username, req.Password)
	default:
		return nil, response.NewBadRequest("invalid auth type")
	}
	if err != nil {
		return nil, err
	}

	accessHours := s.accessTokenHours()
	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, accessHours)
	if err != nil {
		return nil, err
	}

	refreshToken, refreshRecord, err := s.newRefreshToken(user.ID, clientIP, userAgent)
	if err != nil {
		return nil, err
	}
	if err := s.db.Create(refreshRecord).Error; err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.db.Model(user).Update("last_login", now).Error; err != nil {
		logger.Warn().Err(err).Uint("user_id", user.ID).Msg("[Auth] failed to record last login")
	}

	return &LoginResult{
		AccessToken:     token,
		AccessExpireAt:  now.Add(time.Duration(accessHours) * time.Hour),
		RefreshToken:    refreshToken,
		RefreshExpireAt: refreshRecord.ExpiresAt,
		User:            user,
	}, nil
}

// Refresh rotates a refresh token: the presented token is revoked and replaced.
func (s *AuthService) Refresh(refreshToken string, clientIP, userAgent string) (*RefreshResult, error) {
	if refreshToken == "" {
		return nil, response.NewUnauthorized("refresh token required")
	}

	var stored models.RefreshToken
	if err := s.db.Where("token_hash = ?", utils.HashToken(refreshToken)).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewUnauthorized("invalid refresh token")
		}
		return nil, err
	}
	if stored.Rotated() {
		// A rotated token coming back means it leaked; end every session of the user.
		if err := s.revokeAllRefreshTokens(s.db, stored.UserID, models.RevokeReasonReuse); err != nil {
			return nil, err
		}
		logger.Warn().Uint("user_id", stored.UserID).Uint("token_id", stored.ID).
			Str("ip", clientIP).Msg("[Auth] refresh token reuse detected, sessions revoked")
		return nil, response.NewUnauthorized("refresh token revoked")
	}
	if !stored.Usable(time.Now()) {
		if stored.RevokedAt != nil {
			return nil, response.NewUnauthorized("refresh token revoked")
		}
		return nil, response.NewUnauthorized("refresh token expired")
	}

	var user models.User
	if err := s.db.First(&user, stored.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewUnauthorized("user not found")
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, response.NewForbidden("user is disabled")
	}

	accessHours := s.accessTokenHours()
	newAccessToken, err := utils.GenerateToken(user.ID, user.Username, user.Role, accessHours)
	if err != nil {
		return nil, err
	}
	newRefreshToken, newRefresh, err := s.newRefreshToken(user.ID, clientIP, userAgent)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(newRefresh).Error; err != nil {
			return err
		}
		result := tx.Model(&models.RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", stored.ID).
			Updates(map[string]interface{}{
				"revoked_at":           now,
				"revoke_reason":        models.RevokeReasonRotated,
				"replaced_by_token_id": newRefresh.ID,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return response.NewUnauthorized("refresh token revoked")
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return &RefreshResult{
		AccessToken:     newAccessToken,
		AccessExpireAt:  now.Add(time.Duration(accessHours) * time.Hour),
		RefreshToken:    newRefreshToken,
		RefreshExpireAt: newRefresh.ExpiresAt,
	}, nil
}

func (s *AuthService) RevokeRefreshToken(refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	return s.db.Model(&models.RefreshToken{}).
		Where("token_hash = ? AND revoked_at IS NULL", utils.HashToken(refreshToken)).
		Updates(map[string]interface{}{"revoked_at": time.Now(), "revoke_reason": models.RevokeReasonLogout}).Error
}

func (s *AuthService) revokeAllRefreshTokens(db *gorm.DB, userID uint, reason string) error {
	return db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Updates(map[string]interface{}{"revoked_at": time.Now(), "revoke_reason": reason}).Error
}

func (s *AuthService) accessTokenHours() int {
	if s.jwtConfig == nil || s.jwtConfig.ExpireHour <= 0 {
		return 24
	}
	return s.jwtConfig.ExpireHour
}

func (s *AuthService) refreshTokenHours() int {
	if s.jwtConfig == nil || s.jwtConfig.RefreshExpireHour <= 0 {
		return 720
	}
	return s.jwtConfig.RefreshExpireHour
}

func (s *AuthService) newRefreshToken(userID uint, clientIP, userAgent string) (string, *models.RefreshToken, error) {
	token, err := utils.RandomToken(32)
	if err != nil {
		return "", nil, err
	}
	record := &models.RefreshToken{
		UserID:      userID,
		TokenHash:   utils.HashToken(token),
		ExpiresAt:   time.Now().Add(time.Duration(s.refreshTokenHours()) * time.Hour),
		CreatedByIP: clientIP,
		UserAgent:   userAgent,
	}
	return token, record, nil
}

func (s *AuthService) localAuth(username, password string) (*models.User, error) {
	var user models.User
	if err := s.db.Where("username = ? AND auth_type = ?", username, AuthTypeLocal).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, response.NewUnauthorized("invalid username or password")
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, response.NewForbidden("user is disabled")
	}

	if !utils.CheckPassword(password, user.Password) {
		return nil, response.NewUnauthorized("invalid username or password")
	}

	if utils.NeedsRehash(user.Password) {
		if hashed, err := utils.HashPassword(password); err == nil {
			if err := s.db.Model(&user).Update("password", hashed).Error; err != nil {
				logger.Warn().Err(err).Uint("user_id", user.ID).Msg("[Auth] password rehash failed")
			} else {
				user.Password = hashed
			}
		}
	}

	return &user, nil
}

func (s *AuthService) ldapAuth(username, password string) (*models.User, error) {
	if !s.ldapService.IsEnabled() {
		return nil, response.NewBadRequest("LDAP login is not enabled")
	}
	ldapUser, err := s.ldapService.Authenticate(username, password)
	switch {
	case errors.Is(err, ErrLDAPCredentials), errors.Is(err, ErrLDAPUserNotFound), errors.Is(err, ErrLDAPAmbiguous):
		logger.Warn().Err(err).Str("username", username).Msg("[Auth] LDAP authentication failed")
		return nil, response.NewUnauthorized("invalid username or password")
	case err != nil:
		logger.Error().Err(err).Str("username", username).Msg("[Auth] LDAP directory unavailable")
		return nil, response.NewServerError("directory unavailable")
	}

	var user models.User
	err = s.db.Where("username = ? AND auth_type = ?", ldapUser.Username, AuthTypeLDAP).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			Username: ldapUser.Username,
			Email:    ldapUser.Email,
			Nickname: ldapUser.Nickname,
			Role:     models.UserRoleUser,
			AuthType: AuthTypeLDAP,
			IsActive: true,
		}
		if err := s.db.Create(&user).Error; err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if !user.IsActive {
		return nil, response.NewForbidden("user is disabled")
	}

	if err := s.db.Model(&user).Updates(map[string]interface{}{
		"email":    ldapUser.Email,
		"nickname": ldapUser.Nickname,
	}).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *AuthService) GetUserByID(id uint) (*models.User, error) {
	return findUser(s.db, id)
}

// CreateAdminIfNotExists creates default admin user if not exists
func (s *AuthService) CreateAdminIfNotExists() error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("role = ?", models.UserRoleAdmin).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hashedPassword, err := utils.HashPassword("admin")
	if err != nil {
		return err
	}
	admin := models.User{
		Username: "admin",
		Password: hashedPassword,
		Nickname: "Administrator",
		Role:     models.UserRoleAdmin,
		AuthType: AuthTypeLocal,
		IsActive: true,
	}
	if err := s.db.Create(&admin).Error; err != nil {
		return err
	}
	logger.Warn().Msg("[Auth] default admin account created, change its password")
	return nil
}

func (s *AuthService) IsLDAPEnabled() bool {
	return s.ldapService.IsEnabled()
}

func (s *AuthService) ChangePassword(userID uint, req *ChangePasswordRequest) error {
	user, err := findUser(s.db, userID)
	if err != nil {
		return err
	}
	if user.AuthType != AuthTypeLocal {
		return response.NewBadRequest("LDAP users cannot change password here")
	}
	if !utils.CheckPassword(req.OldPassword, user.Password) {
		return response.NewBadRequest("incorrect old password")
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return s.db.Model(user).Update("password", hashedPassword).Error
}

// ForgotPassword mails a one-time reset token. Unknown addresses succeed silently.
func (s *AuthService) ForgotPassword(req *ForgotPasswordRequest) error {
	var user models.User
	err := s.db.Where("LOWER(email) = ? AND auth_type = ? AND is_active = ?", normalizeEmail(req.Email), AuthTypeLocal, true).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	token, err := utils.RandomToken(32)
	if err != nil {
		return err
	}
	reset := models.PasswordReset{
		UserID:    user.ID,
		TokenHash: utils.HashToken(token),
		ExpiresAt: time.Now().Add(s.resetTTL),
	}
	if err := s.db.Create(&reset).Error; err != nil {
		return err
	}

	if s.mailer != nil {
		if err := s.mailer.SendPasswordReset(user.Email, token); err != nil {
			logger.Warn().Err(err).Uint("user_id", user.ID).Msg("[Auth] password reset mail not sent")
		}
	}
	return nil
}

// ResetPassword consumes a reset token, sets the new password and revokes every
// refresh token of the user.
func (s *AuthService) ResetPassword(req *ResetPasswordRequest) error {
	hashed, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var reset models.PasswordReset
		err := tx.Where("token_hash = ?", utils.HashToken(req.Token)).First(&reset).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return response.NewBadRequest("invalid reset token")
		}
		if err != nil {
			return err
		}
		now := time.Now()
		if reset.UsedAt != nil || now.After(reset.ExpiresAt) {
			return response.NewBadRequest("reset token has expired")
		}

		if err := tx.Model(&models.User{}).Where("id = ?", reset.UserID).Update("password", hashed).Error; err != nil {
			return err
		}
		if err := tx.Model(&reset).Update("used_at", now).Error; err != nil {
			return err
		}
		return s.revokeAllRefreshTokens(tx, reset.UserID, models.RevokeReasonReset)
	})
}
