package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/auratek/contxt-bridge/internal/config"
	"github.com/auratek/contxt-bridge/internal/domain"
)

func portalConfig(baseURL string) config.PortalConfig {
	return config.PortalConfig{
		BaseURL:              baseURL,
		UserAgent:            "test-agent",
		LoginEmailFieldID:    "ctl00$loginEmail",
		LoginPasswordFieldID: "ctl00$loginPassword",
		LoginButtonID:        "ctl00$loginButton",
		LoginButtonText:      "Login >>",
		TimeoutSeconds:       5,
	}
}

func TestLoginPostsHiddenInputs(t *testing.T) {
	var postedForm map[string][]string

	mux := http.NewServeMux()
	mux.HandleFunc("/Login.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "abc123"})
			w.Write([]byte(`<html><form>
				<input type="hidden" name="__VIEWSTATE" value="vs-token" />
				<input type="hidden" name="__EVENTVALIDATION" value="ev-token" />
			</form></html>`))
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("login post is not multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		postedForm = r.MultipartForm.Value
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := Login(context.Background(), portalConfig(srv.URL), 1, "bot@example.com", "secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	get := func(key string) string {
		if v := postedForm[key]; len(v) > 0 {
			return v[0]
		}
		return ""
	}
	if get("__VIEWSTATE") != "vs-token" || get("__EVENTVALIDATION") != "ev-token" {
		t.Errorf("hidden inputs not forwarded: %v", postedForm)
	}
	if get("ctl00$loginEmail") != "bot@example.com" {
		t.Errorf("username field = %q", get("ctl00$loginEmail"))
	}
	if get("ctl00$loginButton") != "Login >>" {
		t.Errorf("login button field = %q", get("ctl00$loginButton"))
	}

	if s.CookieHeader() == "" {
		t.Error("session has no cookies after login")
	}
}

func TestLoginFailsOnBadPost(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Login.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`<html><form></form></html>`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	if _, err := Login(context.Background(), portalConfig(srv.URL), 1, "u", "p"); err == nil {
		t.Fatal("expected error when login post is rejected")
	}
}

func TestCacheReusesSession(t *testing.T) {
	logins := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/Login.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`<html><form></form></html>`))
			return
		}
		logins++
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cache := NewCache(portalConfig(srv.URL))
	bot := &domain.Bot{ID: 9, PortalUsername: "u", PortalPassword: "p"}

	first, err := cache.Get(context.Background(), bot)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := cache.Get(context.Background(), bot)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second {
		t.Error("cache returned a new session for a cached bot")
	}
	if logins != 1 {
		t.Errorf("logins = %d, want 1", logins)
	}

	cache.Invalidate(bot.ID)
	third, err := cache.Get(context.Background(), bot)
	if err != nil {
		t.Fatalf("Get after invalidate: %v", err)
	}
	if third == first {
		t.Error("invalidate did not drop the cached session")
	}
	if logins != 2 {
		t.Errorf("logins after invalidate = %d, want 2", logins)
	}
}

func TestInboxPageSessionExpired(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/Login.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Query().Get("redirected") == "" {
			w.Write([]byte(`<html><form></form></html>`))
			return
		}
		w.Write([]byte(`login page`))
	})
	mux.HandleFunc("/Inbox.aspx", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/Login.aspx?redirected=1", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, err := Login(context.Background(), portalConfig(srv.URL), 1, "u", "p")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := s.InboxPage(context.Background()); err != ErrSessionExpired {
		t.Fatalf("InboxPage after redirect = %v, want ErrSessionExpired", err)
	}
}
