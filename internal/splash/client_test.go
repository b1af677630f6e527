package splash

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/auratek/contxt-bridge/internal/config"
	"github.com/auratek/contxt-bridge/internal/portal"
)

func testSession(t *testing.T) *portal.Session {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/Login.aspx", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "sess-1"})
			w.Write([]byte(`<html><form></form></html>`))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	s, err := portal.Login(context.Background(), config.PortalConfig{
		BaseURL:        srv.URL,
		UserAgent:      "test-agent",
		TimeoutSeconds: 5,
	}, 1, "u", "p")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return s
}

func TestAcceptInviteRequestShape(t *testing.T) {
	var request map[string]any

	splashSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"element_found":  true,
			"is_processed":   true,
			"message":        "invitation accepted",
			"extra_messages": "COOK, ZACHARY",
			"html":           "<html></html>",
		})
	}))
	defer splashSrv.Close()

	client := NewClient(
		config.SplashConfig{ExecuteURL: splashSrv.URL, TimeoutSeconds: 5},
		config.PortalConfig{
			InviteCodeBoxID:      "codeBox",
			InviteCodeGoButtonID: "goButton",
			InviteInfoDivID:      "infoDiv",
			InviteAcceptButtonID: "acceptButton",
			RecordNotFoundSpanID: "notFoundSpan",
		},
		false,
	)

	result, err := client.AcceptInvite(context.Background(), testSession(t), "6F876NMY")
	if err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}

	if !result.ElementFound || !result.IsProcessed {
		t.Errorf("result = %+v", result)
	}
	if request["invitation_code"] != "6F876NMY" {
		t.Errorf("invitation_code = %v", request["invitation_code"])
	}
	if request["invite_code_box_id"] != "codeBox" {
		t.Errorf("invite_code_box_id = %v", request["invite_code_box_id"])
	}
	if request["lua_source"] == "" || request["lua_source"] == nil {
		t.Error("lua_source missing from request")
	}
	if request["cookies"] == nil {
		t.Error("cookie header missing from request")
	}
	if request["splash_cookies"] == nil {
		t.Error("splash cookies missing from request")
	}
}

func TestSendReplyTargetsThread(t *testing.T) {
	var request map[string]any

	splashSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&request)
		json.NewEncoder(w).Encode(map[string]any{
			"element_found": true,
			"message":       "reply sent",
		})
	}))
	defer splashSrv.Close()

	client := NewClient(config.SplashConfig{ExecuteURL: splashSrv.URL, TimeoutSeconds: 5}, config.PortalConfig{}, false)

	result, err := client.SendReply(context.Background(), testSession(t), "3736625367", "Hi back")
	if err != nil {
		t.Fatalf("SendReply: %v", err)
	}
	if !result.ElementFound {
		t.Errorf("result = %+v", result)
	}

	replyURL, _ := request["reply_url"].(string)
	want := "messageId=3736625367&type=reply"
	if !strings.Contains(replyURL, want) {
		t.Errorf("reply_url = %q, want it to contain %q", replyURL, want)
	}
	if request["message_content"] != "Hi back" {
		t.Errorf("message_content = %v", request["message_content"])
	}
}

func TestExecuteSurfacesServerError(t *testing.T) {
	splashSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer splashSrv.Close()

	client := NewClient(config.SplashConfig{ExecuteURL: splashSrv.URL, TimeoutSeconds: 5}, config.PortalConfig{}, false)
	if _, err := client.SendReply(context.Background(), testSession(t), "1", "x"); err == nil {
		t.Fatal("expected error for non-200 splash response")
	}
}

func TestParseResultCollectsScreenshots(t *testing.T) {
	raw := map[string]json.RawMessage{
		"element_found": json.RawMessage(`true`),
		"message":       json.RawMessage(`"ok"`),
		"screenshot_1":  json.RawMessage(`"aGVsbG8="`),
		"screenshot_2":  json.RawMessage(`"d29ybGQ="`),
	}
	r := parseResult(raw)
	if len(r.Screenshots) != 2 {
		t.Errorf("screenshots = %v", r.Screenshots)
	}
}
