package services

import (
	"errors"
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/huangang/taskhub/internal/config"
	"github.com/huangang/taskhub/internal/models"
	"github.com/huangang/taskhub/pkg/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDirectory accepts the service account and the passwords in users,
// keyed by DN.
type fakeDirectory struct {
	entries []*ldap.Entry
	users   map[string]string
	binds   []string
	filter  string
	closed  bool
}

func (d *fakeDirectory) Bind(dn, password string) error {
	d.binds = append(d.binds, dn)
	if dn == "cn=svc,dc=example,dc=com" && password == "svc-pass" {
		return nil
	}
	if want, ok := d.users[dn]; ok && want == password {
		return nil
	}
	return ldap.NewError(ldap.LDAPResultInvalidCredentials, errors.New("invalid credentials"))
}

func (d *fakeDirectory) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	d.filter = req.Filter
	return &ldap.SearchResult{Entries: d.entries}, nil
}

func (d *fakeDirectory) Close() error {
	d.closed = true
	return nil
}

func ldapConfig() *config.LDAPConfig {
	return &config.LDAPConfig{
		Enabled:      true,
		Host:         "ldap.example.com",
		Port:         389,
		BaseDN:       "dc=example,dc=com",
		BindDN:       "cn=svc,dc=example,dc=com",
		BindPassword: "svc-pass",
	}
}

func newFakeLDAP(dir *fakeDirectory) *LDAPService {
	s := NewLDAPService(ldapConfig())
	s.dial = func() (directory, error) { return dir, nil }
	return s
}

func carolEntry() *ldap.Entry {
	return ldap.NewEntry("uid=carol,ou=people,dc=example,dc=com", map[string][]string{
		"uid":  {"carol"},
		"mail": {" Carol@Example.COM "},
		"cn":   {"Carol C"},
	})
}

func TestLDAPAuthenticate(t *testing.T) {
	dir := &fakeDirectory{
		entries: []*ldap.Entry{carolEntry()},
		users:   map[string]string{"uid=carol,ou=people,dc=example,dc=com": "pw"},
	}
	user, err := newFakeLDAP(dir).Authenticate("carol*)(uid=*", "pw")
	require.NoError(t, err)

	assert.Equal(t, "carol", user.Username)
	assert.Equal(t, "carol@example.com", user.Email)
	assert.Equal(t, "Carol C", user.Nickname)
	assert.Equal(t, `(uid=carol\2a\29\28uid=\2a)`, dir.filter)
	assert.Equal(t, []string{"cn=svc,dc=example,dc=com", "uid=carol,ou=people,dc=example,dc=com"}, dir.binds)
	assert.True(t, dir.closed)
}

func TestLDAPAuthenticate_ActiveDirectoryEntry(t *testing.T) {
	entry := ldap.NewEntry("cn=Dave,dc=example,dc=com", map[string][]string{
		"sAMAccountName": {"dave"},
		"displayName":    {"Dave D"},
		"cn":             {"Dave"},
	})
	dir := &fakeDirectory{entries: []*ldap.Entry{entry}, users: map[string]string{entry.DN: "pw"}}

	user, err := newFakeLDAP(dir).Authenticate("dave", "pw")
	require.NoError(t, err)
	assert.Equal(t, "dave", user.Username)
	assert.Equal(t, "Dave D", user.Nickname)
	assert.Empty(t, user.Email)
}

func TestLDAPAuthenticate_Errors(t *testing.T) {
	tests := []struct {
		name     string
		entries  []*ldap.Entry
		password string
		want     error
	}{
		{"empty password", []*ldap.Entry{carolEntry()}, "", ErrLDAPCredentials},
		{"wrong password", []*ldap.Entry{carolEntry()}, "nope", ErrLDAPCredentials},
		{"no entry", nil, "pw", ErrLDAPUserNotFound},
		{"two entries", []*ldap.Entry{carolEntry(), carolEntry()}, "pw", ErrLDAPAmbiguous},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := &fakeDirectory{
				entries: tt.entries,
				users:   map[string]string{"uid=carol,ou=people,dc=example,dc=com": "pw"},
			}
			_, err := newFakeLDAP(dir).Authenticate("carol", tt.password)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := NewLDAPService(nil).Authenticate("carol", "pw")
	assert.ErrorIs(t, err, ErrLDAPDisabled)
}

func TestLDAPAuthenticate_ServiceAccountRejected(t *testing.T) {
	cfg := ldapConfig()
	cfg.BindPassword = "stale"
	s := NewLDAPService(cfg)
	s.dial = func() (directory, error) { return &fakeDirectory{entries: []*ldap.Entry{carolEntry()}}, nil }

	_, err := s.Authenticate("carol", "pw")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLDAPCredentials)
}

func TestLogin_LDAPProvisionsAndSyncs(t *testing.T) {
	svc, _ := newAuthEnv(t)
	dir := &fakeDirectory{
		entries: []*ldap.Entry{carolEntry()},
		users:   map[string]string{"uid=carol,ou=people,dc=example,dc=com": "pw"},
	}
	svc.ldapService = newFakeLDAP(dir)

	result, err := svc.Login(&LoginRequest{Username: "carol", Password: "pw", AuthType: AuthTypeLDAP}, "", "")
	require.NoError(t, err)
	assert.Equal(t, AuthTypeLDAP, result.User.AuthType)
	assert.Equal(t, models.UserRoleUser, result.User.Role)
	assert.Equal(t, "carol@example.com", result.User.Email)
	firstID := result.User.ID

	dir.entries[0] = ldap.NewEntry(dir.entries[0].DN, map[string][]string{
		"uid": {"carol"}, "mail": {"carol@new.example.com"}, "cn": {"Carol C"},
	})
	result, err = svc.Login(&LoginRequest{Username: "carol", Password: "pw", AuthType: AuthTypeLDAP}, "", "")
	require.NoError(t, err)
	assert.Equal(t, firstID, result.User.ID)

	stored, err := svc.GetUserByID(firstID)
	require.NoError(t, err)
	assert.Equal(t, "carol@new.example.com", stored.Email)

	_, err = svc.Login(&LoginRequest{Username: "carol", Password: "bad", AuthType: AuthTypeLDAP}, "", "")
	requireKind(t, err, response.KindUnauthorized)
}

func TestLogin_LDAPDirectoryDown(t *testing.T) {
	svc, _ := newAuthEnv(t)
	svc.ldapService = NewLDAPService(ldapConfig())
	svc.ldapService.dial = func() (directory, error) { return nil, errors.New("connection refused") }

	_, err := svc.Login(&LoginRequest{Username: "carol", Password: "pw", AuthType: AuthTypeLDAP}, "", "")
	requireKind(t, err, response.KindInternal)
}
