package services

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/huangang/taskhub/internal/config"
)

const ldapTimeout = 10 * time.Second

var (
	ErrLDAPDisabled     = errors.New("ldap login is not enabled")
	ErrLDAPCredentials  = errors.New("ldap credentials rejected")
	ErrLDAPUserNotFound = errors.New("ldap user not found")
	ErrLDAPAmbiguous    = errors.New("ldap filter matched several entries")
)

// directory is the part of *ldap.Conn a login needs.
type directory interface {
	Bind(username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Close() error
}

var ldapAttributes = []string{"dn", "cn", "displayName", "mail", "uid", "sAMAccountName"}

// LDAPUser is a directory entry mapped onto a site account. Email is
// normalized because invites are matched against it.
type LDAPUser struct {
	DN       string
	Username string
	Email    string
	Nickname string
}

type LDAPService struct {
	config *config.LDAPConfig
	dial   func() (directory, error)
}

// NewLDAPService creates a directory authenticator. A nil config disables it.
func NewLDAPService(cfg *config.LDAPConfig) *LDAPService {
	if cfg == nil {
		cfg = &config.LDAPConfig{}
	}
	s := &LDAPService{config: cfg}
	s.dial = s.dialServer
	return s
}

func (s *LDAPService) IsEnabled() bool {
	return s.config.Enabled && s.config.Host != ""
}

func (s *LDAPService) dialServer() (directory, error) {
	scheme := "ldap"
	if s.config.UseSSL {
		scheme = "ldaps"
	}
	addr := scheme + "://" + net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	tlsCfg := &tls.Config{ServerName: s.config.Host, InsecureSkipVerify: s.config.InsecureSkipVerify}

	conn, err := ldap.DialURL(addr,
		ldap.DialWithTLSConfig(tlsCfg),
		ldap.DialWithDialer(&net.Dialer{Timeout: ldapTimeout}))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	conn.SetTimeout(ldapTimeout)

	if s.config.StartTLS && !s.config.UseSSL {
		if err := conn.StartTLS(tlsCfg); err != nil {
			conn.Close()
			return nil, fmt.Errorf("start tls: %w", err)
		}
	}
	return conn, nil
}

// Authenticate finds username with the configured filter and binds as the
// entry to check password.
func (s *LDAPService) Authenticate(username, password string) (*LDAPUser, error) {
	if !s.IsEnabled() {
		return nil, ErrLDAPDisabled
	}
	username = strings.TrimSpace(username)
	// An empty password is an unauthenticated bind, which most servers accept.
	if username == "" || password == "" {
		return nil, ErrLDAPCredentials
	}

	conn, err := s.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if s.config.BindDN != "" {
		if err := conn.Bind(s.config.BindDN, s.config.BindPassword); err != nil {
			return nil, fmt.Errorf("service account bind: %w", err)
		}
	}

	filter := s.config.UserFilter
	if filter == "" {
		filter = "(uid=%s)"
	}
	result, err := conn.Search(ldap.NewSearchRequest(
		s.config.BaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 2, int(ldapTimeout.Seconds()), false,
		fmt.Sprintf(filter, ldap.EscapeFilter(username)),
		ldapAttributes,
		nil,
	))
	if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
		return nil, fmt.Errorf("search: %w", err)
	}
	if result == nil || len(result.Entries) == 0 {
		return nil, ErrLDAPUserNotFound
	}
	if len(result.Entries) > 1 || err != nil {
		return nil, ErrLDAPAmbiguous
	}

	entry := result.Entries[0]
	if err := conn.Bind(entry.DN, password); err != nil {
		if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
			return nil, ErrLDAPCredentials
		}
		return nil, fmt.Errorf("user bind: %w", err)
	}
	return ldapUserFromEntry(entry, username), nil
}

func ldapUserFromEntry(entry *ldap.Entry, login string) *LDAPUser {
	user := &LDAPUser{
		DN:       entry.DN,
		Username: entry.GetAttributeValue("uid"),
		Email:    normalizeEmail(entry.GetAttributeValue("mail")),
		Nickname: entry.GetAttributeValue("displayName"),
	}
	if user.Username == "" {
		// Active Directory
		user.Username = entry.GetAttributeValue("sAMAccountName")
	}
	if user.Username == "" {
		user.Username = login
	}
	if user.Nickname == "" {
		user.Nickname = entry.GetAttributeValue("cn")
	}
	return user
}
