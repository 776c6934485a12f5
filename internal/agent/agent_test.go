package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgent_Get_ParsesDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><head><title> Welcome </title></head><body><p id="msg">hello</p></body></html>`))
	}))
	defer srv.Close()

	a, err := New()
	require.NoError(t, err)

	page, err := a.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Welcome", page.Title())
	assert.Equal(t, "hello", page.Find("#msg").Text())
}

func TestAgent_Get_RetainsCookies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/set", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc123", Path: "/"})
		w.Write([]byte("<html></html>"))
	})
	var gotCookie string
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sid"); err == nil {
			gotCookie = c.Value
		}
		w.Write([]byte("<html></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a, err := New()
	require.NoError(t, err)

	_, err = a.Get(context.Background(), srv.URL+"/set")
	require.NoError(t, err)
	_, err = a.Get(context.Background(), srv.URL+"/check")
	require.NoError(t, err)

	assert.Equal(t, "abc123", gotCookie, "cookie should be retained across requests")
}

func TestAgent_Get_DecodesLatin1(t *testing.T) {
	// "Välkommen" with 0xE4 for ä, as the portal serves it.
	latin1 := []byte("<html><body><p id=\"greet\">V\xe4lkommen</p></body></html>")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=iso-8859-1")
		w.Write(latin1)
	}))
	defer srv.Close()

	a, err := New()
	require.NoError(t, err)

	page, err := a.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Equal(t, "Välkommen", page.Find("#greet").Text())
}

func TestAgent_Get_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	a, err := New()
	require.NoError(t, err)

	_, err = a.Get(context.Background(), srv.URL)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestAgent_SubmitForm(t *testing.T) {
	var posted url.Values

	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body>
			<form class="login-simple" action="/submit" method="post">
				<input type="hidden" name="__VIEWSTATE" value="state-token"/>
				<input type="hidden" name="JSEnabled" value="0"/>
				<input type="password" name="Password" value=""/>
				<input type="checkbox" name="remember" value="yes"/>
				<input type="submit" name="go" value="Log in"/>
			</form>
		</body></html>`))
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		posted = r.PostForm
		w.Write([]byte("<html><head><title>Done</title></head></html>"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a, err := New()
	require.NoError(t, err)

	page, err := a.Get(context.Background(), srv.URL+"/login")
	require.NoError(t, err)

	result, err := a.SubmitForm(context.Background(), page, ".login-simple", url.Values{
		"Password":  {"1234"},
		"JSEnabled": {"1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Done", result.Title())

	// Hidden state survives, overrides win, unchecked checkbox and submit
	// button are not serialized.
	assert.Equal(t, "state-token", posted.Get("__VIEWSTATE"))
	assert.Equal(t, "1", posted.Get("JSEnabled"))
	assert.Equal(t, "1234", posted.Get("Password"))
	assert.Empty(t, posted.Get("remember"))
	assert.Empty(t, posted.Get("go"))
}

func TestAgent_SubmitForm_MissingForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>no form here</p></body></html>"))
	}))
	defer srv.Close()

	a, err := New()
	require.NoError(t, err)

	page, err := a.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	_, err = a.SubmitForm(context.Background(), page, ".login-simple", nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
