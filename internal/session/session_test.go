package session

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager_RandomSecret(t *testing.T) {
	a, err := NewManager("", false)
	require.NoError(t, err)
	b, err := NewManager("", false)
	require.NoError(t, err)

	key := a.NewKey()
	assert.NotEqual(t, a.Token(key), b.Token(key), "independent random secrets")
}

func TestTokenAndVerify(t *testing.T) {
	m, err := NewManager("s3cret", false)
	require.NoError(t, err)

	key := m.NewKey()
	token := m.Token(key)

	assert.Len(t, token, 64)
	assert.Equal(t, token, m.Token(key), "deterministic")
	assert.True(t, m.Verify(key, token))
	assert.False(t, m.Verify(key, token[:63]+"0"))
	assert.False(t, m.Verify(m.NewKey(), token), "token bound to its key")
	assert.False(t, m.Verify(key, ""))
	assert.False(t, m.Verify("", token))

	other, _ := NewManager("different", false)
	assert.False(t, other.Verify(key, token))
}

func TestValidKey(t *testing.T) {
	m, _ := NewManager("x", false)
	assert.True(t, ValidKey(m.NewKey()))
	assert.False(t, ValidKey(""))
	assert.False(t, ValidKey("none"))
	assert.False(t, ValidKey("not-a-uuid-at-all-but-36-characters!"))
	assert.False(t, ValidKey("{"+m.NewKey()+"}"))
}

func TestIssue_MintsAndSetsCookies(t *testing.T) {
	m, _ := NewManager("s3cret", true)

	rr := httptest.NewRecorder()
	key := m.Issue(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, ValidKey(key))

	cookies := map[string]*http.Cookie{}
	for _, c := range rr.Result().Cookies() {
		cookies[c.Name] = c
	}

	require.Contains(t, cookies, SessionCookie)
	require.Contains(t, cookies, ContinuityCookie)
	assert.Equal(t, key, cookies[SessionCookie].Value)
	assert.True(t, cookies[SessionCookie].HttpOnly)
	assert.True(t, cookies[SessionCookie].Secure)
	assert.Equal(t, m.Token(key), cookies[ContinuityCookie].Value)
	assert.False(t, cookies[ContinuityCookie].HttpOnly, "the page script must read it")
}

func TestIssue_ReusesExistingKey(t *testing.T) {
	m, _ := NewManager("s3cret", false)
	existing := m.NewKey()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: existing})

	assert.Equal(t, existing, m.Issue(httptest.NewRecorder(), req))
}

func TestIssue_ReplacesMalformedKey(t *testing.T) {
	m, _ := NewManager("s3cret", false)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "'; DROP TABLE visits; --"})

	key := m.Issue(httptest.NewRecorder(), req)
	assert.True(t, ValidKey(key))
}
