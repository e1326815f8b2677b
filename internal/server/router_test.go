package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/quotedeck/internal/auth"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/database"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/metrics"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/quotes"
	"github.com/MarcoPoloResearchLab/quotedeck/internal/users"
)

const (
	testSigningSecret = "test-signing-secret"
	testCookieName    = "quotedeck_session"
	testOrgID         = "org-1"
)

type apiEnv struct {
	server *httptest.Server
	db     *gorm.DB
	tokens map[string]string
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	db, err := database.Open(database.DriverSQLite, filepath.Join(t.TempDir(), "api.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := db.Create(&users.Organization{ID: testOrgID, Name: "Acme"}).Error; err != nil {
		t.Fatalf("failed to seed organization: %v", err)
	}
	members := map[string]users.Role{
		"admin":  users.RoleAdmin,
		"editor": users.RoleEditor,
		"pm":     users.RoleEditor,
		"sales":  users.RoleViewer,
	}
	for name, role := range members {
		member := users.User{ID: "user-" + name, OrgID: testOrgID, Name: name, Email: name + "@example.com", Role: role}
		if err := db.Create(&member).Error; err != nil {
			t.Fatalf("failed to seed user %s: %v", name, err)
		}
	}

	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}
	dispatcher := NewRealtimeDispatcher().WithRecorder(recorder)

	quoteService, err := quotes.NewService(quotes.ServiceConfig{
		Database:          db,
		IDProvider:        quotes.NewUUIDProvider(),
		Notifier:          dispatcher,
		Recorder:          recorder,
		ShareLinkHashCost: quotes.MinShareLinkHashCost,
	})
	if err != nil {
		t.Fatalf("failed to create quote service: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create user service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    testCookieName,
	})
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte(testSigningSecret), TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("failed to create issuer: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		SessionValidator: validator,
		Actors:           userService,
		QuoteService:     quoteService,
		Realtime:         dispatcher,
		MetricsHandler:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:           zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	env := &apiEnv{server: server, db: db, tokens: map[string]string{}}
	for name := range members {
		token, _, err := issuer.IssueSessionToken(context.Background(), auth.SessionSubject{UserID: "user-" + name, OrgID: testOrgID})
		if err != nil {
			t.Fatalf("failed to issue token: %v", err)
		}
		env.tokens[name] = token
	}
	return env
}

func (env *apiEnv) do(t *testing.T, method, path, member string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, env.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if member != "" {
		request.AddCookie(&http.Cookie{Name: testCookieName, Value: env.tokens[member]})
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()

	payload := map[string]interface{}{}
	raw, _ := io.ReadAll(response.Body)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("failed to decode %s %s response %q: %v", method, path, raw, err)
		}
	}
	return response.StatusCode, payload
}

func (env *apiEnv) expect(t *testing.T, method, path, member string, body interface{}, status int) map[string]interface{} {
	t.Helper()
	got, payload := env.do(t, method, path, member, body)
	if got != status {
		t.Fatalf("%s %s: expected status %d, got %d (%v)", method, path, status, got, payload)
	}
	return payload
}

func referenceRequirementsPayload() map[string]interface{} {
	return map[string]interface{}{
		"templateScale":  "medium",
		"screenMin":      20,
		"screenMax":      30,
		"dataComplexity": "medium",
		"features":       map[string]bool{"auth": true},
		"nonFunctional":  map[string]bool{},
	}
}

func (env *apiEnv) createProject(t *testing.T) string {
	t.Helper()
	env.expect(t, http.MethodPost, "/rate-cards", "admin", map[string]int64{
		"pmDayRate": 100000, "devDayRate": 120000, "designDayRate": 80000,
	}, http.StatusCreated)
	project := env.expect(t, http.MethodPost, "/projects", "editor", map[string]string{
		"title":               "Member portal",
		"clientName":          "Globex",
		"pmApproverUserId":    "user-pm",
		"salesApproverUserId": "user-sales",
		"templateScale":       "medium",
	}, http.StatusCreated)
	return project["id"].(string)
}

func firstBlockID(t *testing.T, document map[string]interface{}) string {
	t.Helper()
	sections, _ := document["sections"].([]interface{})
	for _, rawSection := range sections {
		section := rawSection.(map[string]interface{})
		blocks, _ := section["blocks"].([]interface{})
		if len(blocks) > 0 {
			return blocks[0].(map[string]interface{})["id"].(string)
		}
	}
	t.Fatalf("proposal has no blocks: %v", document)
	return ""
}

func TestQuoteFlowOverHTTP(t *testing.T) {
	env := newAPIEnv(t)
	projectID := env.createProject(t)
	base := "/projects/" + projectID

	env.expect(t, http.MethodPut, base+"/requirements", "editor", referenceRequirementsPayload(), http.StatusOK)
	estimate := env.expect(t, http.MethodGet, base+"/estimate", "editor", nil, http.StatusOK)
	if estimate["totalDays"].(float64) != 29.75 {
		t.Fatalf("expected 29.75 total days, got %v", estimate["totalDays"])
	}

	document := env.expect(t, http.MethodPost, base+"/proposal/generate", "editor", nil, http.StatusOK)
	blockID := firstBlockID(t, document)
	comment := env.expect(t, http.MethodPost, base+"/blocks/"+blockID+"/comments", "sales", map[string]string{"body": "Clarify scope"}, http.StatusCreated)

	env.expect(t, http.MethodPost, base+"/submit", "editor", nil, http.StatusOK)
	blocked := env.expect(t, http.MethodPost, base+"/approve/pm", "pm", nil, http.StatusConflict)
	if blocked["error"] != "precondition_failed" || blocked["code"] != "quotes.approve_pm.unresolved_comments" {
		t.Fatalf("unexpected rejection payload %v", blocked)
	}

	env.expect(t, http.MethodPost, "/comments/"+comment["id"].(string)+"/resolve", "sales", nil, http.StatusForbidden)
	env.expect(t, http.MethodPost, "/comments/"+comment["id"].(string)+"/resolve", "editor", nil, http.StatusOK)

	env.expect(t, http.MethodPost, base+"/approve/sales", "pm", nil, http.StatusForbidden)
	env.expect(t, http.MethodPost, base+"/approve/pm", "pm", nil, http.StatusOK)
	approved := env.expect(t, http.MethodPost, base+"/approve/sales", "sales", nil, http.StatusOK)
	if approved["status"] != string(quotes.StatusApproved) {
		t.Fatalf("expected approved project, got %v", approved["status"])
	}

	link := env.expect(t, http.MethodPost, base+"/share-links", "editor", map[string]interface{}{
		"password": "open sesame", "expiresInDays": 7,
	}, http.StatusCreated)
	token := link["token"].(string)
	if _, exposed := link["passwordHash"]; exposed {
		t.Fatalf("password hash must not be serialized")
	}

	wrong := env.expect(t, http.MethodPost, "/share/"+token+"/verify", "", map[string]string{"password": "nope"}, http.StatusUnauthorized)
	if wrong["error"] != "invalid_credential" {
		t.Fatalf("unexpected wrong password payload %v", wrong)
	}
	snapshot := env.expect(t, http.MethodPost, "/share/"+token+"/verify", "", map[string]string{"password": "open sesame"}, http.StatusOK)
	if snapshot["totalDays"].(float64) != 29.75 {
		t.Fatalf("unexpected snapshot %v", snapshot)
	}
	env.expect(t, http.MethodPost, "/share/unknown/verify", "", map[string]string{"password": "x"}, http.StatusNotFound)

	env.expect(t, http.MethodDelete, base+"/share-links/"+link["id"].(string), "editor", nil, http.StatusOK)
	revoked := env.expect(t, http.MethodPost, "/share/"+token+"/verify", "", map[string]string{"password": "open sesame"}, http.StatusGone)
	if revoked["error"] != "revoked" {
		t.Fatalf("unexpected revoked payload %v", revoked)
	}

	exportRecord := env.expect(t, http.MethodPost, base+"/pdf-exports", "editor", nil, http.StatusAccepted)
	if exportRecord["status"] != "queued" {
		t.Fatalf("unexpected export %v", exportRecord)
	}
	env.expect(t, http.MethodPost, base+"/mark-shared", "editor", nil, http.StatusOK)
	archived := env.expect(t, http.MethodPost, base+"/archive", "editor", nil, http.StatusOK)
	if archived["status"] != string(quotes.StatusArchived) {
		t.Fatalf("expected archived project, got %v", archived["status"])
	}
}

func TestErrorStatusMapping(t *testing.T) {
	env := newAPIEnv(t)

	env.expect(t, http.MethodGet, "/projects", "", nil, http.StatusUnauthorized)
	env.expect(t, http.MethodGet, "/rate-cards/active", "editor", nil, http.StatusServiceUnavailable)
	env.expect(t, http.MethodPost, "/rate-cards", "editor", map[string]int64{
		"pmDayRate": 1, "devDayRate": 1, "designDayRate": 1,
	}, http.StatusForbidden)
	env.expect(t, http.MethodPost, "/rate-cards", "admin", map[string]int64{"pmDayRate": 1}, http.StatusBadRequest)

	projectID := env.createProject(t)
	env.expect(t, http.MethodGet, "/projects/missing", "editor", nil, http.StatusNotFound)
	env.expect(t, http.MethodPost, "/projects/"+projectID+"/estimate", "editor", nil, http.StatusNotFound)
	env.expect(t, http.MethodPost, "/projects/"+projectID+"/approve/pm", "pm", nil, http.StatusConflict)
	env.expect(t, http.MethodPut, "/projects/"+projectID+"/requirements", "editor", map[string]interface{}{
		"templateScale": "giant", "dataComplexity": "medium",
	}, http.StatusBadRequest)

	listed := env.expect(t, http.MethodGet, "/projects?q=globex", "sales", nil, http.StatusOK)
	if projects := listed["projects"].([]interface{}); len(projects) != 1 {
		t.Fatalf("expected one listed project, got %d", len(projects))
	}
	members := env.expect(t, http.MethodGet, "/users", "sales", nil, http.StatusOK)
	if len(members["users"].([]interface{})) != 4 {
		t.Fatalf("expected four members, got %v", members["users"])
	}

	env.expect(t, http.MethodGet, "/healthz", "", nil, http.StatusOK)
	response, err := http.Get(env.server.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	raw, _ := io.ReadAll(response.Body)
	_ = response.Body.Close()
	if !strings.Contains(string(raw), "quotedeck_lifecycle_transitions_total") {
		t.Fatalf("expected transition counter in metrics output")
	}
}

func TestProjectEventsWebsocket(t *testing.T) {
	env := newAPIEnv(t)
	projectID := env.createProject(t)

	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/projects/" + projectID + "/events"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+env.tokens["editor"])
	conn, response, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if response.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected handshake status %d", response.StatusCode)
	}

	env.expect(t, http.MethodPost, "/projects/"+projectID+"/submit", "editor", nil, http.StatusOK)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var event quotes.Event
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if event.Type != quotes.EventStatusChanged || event.ProjectID != projectID || event.Status != quotes.StatusReview {
		t.Fatalf("unexpected event %#v", event)
	}
}

func TestProjectEventsRejectsForeignProject(t *testing.T) {
	env := newAPIEnv(t)
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/projects/missing/events"
	header := http.Header{}
	header.Set("Authorization", "Bearer "+env.tokens["editor"])
	_, response, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if response == nil || response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected not found handshake response, got %v", response)
	}
}

func TestProjectEventsChecksOrigin(t *testing.T) {
	env := newAPIEnv(t)
	projectID := env.createProject(t)
	wsURL := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/projects/" + projectID + "/events"

	foreign := http.Header{}
	foreign.Set("Authorization", "Bearer "+env.tokens["editor"])
	foreign.Set("Origin", "https://attacker.example")
	_, response, err := websocket.DefaultDialer.Dial(wsURL, foreign)
	if err == nil {
		t.Fatalf("expected cross-origin handshake to fail")
	}
	if response == nil || response.StatusCode != http.StatusForbidden {
		t.Fatalf("expected forbidden handshake response, got %v", response)
	}

	local := http.Header{}
	local.Set("Authorization", "Bearer "+env.tokens["editor"])
	local.Set("Origin", env.server.URL)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, local)
	if err != nil {
		t.Fatalf("expected same-origin handshake to succeed: %v", err)
	}
	_ = conn.Close()
}

func TestDemotedMemberLosesCommentResolution(t *testing.T) {
	env := newAPIEnv(t)
	projectID := env.createProject(t)
	base := "/projects/" + projectID

	env.expect(t, http.MethodPut, base+"/requirements", "editor", referenceRequirementsPayload(), http.StatusOK)
	document := env.expect(t, http.MethodPost, base+"/proposal/generate", "editor", nil, http.StatusOK)
	blockID := firstBlockID(t, document)
	first := env.expect(t, http.MethodPost, base+"/blocks/"+blockID+"/comments", "sales", map[string]string{"body": "Tighten copy"}, http.StatusCreated)
	second := env.expect(t, http.MethodPost, base+"/blocks/"+blockID+"/comments", "sales", map[string]string{"body": "Add timeline"}, http.StatusCreated)

	env.expect(t, http.MethodPost, "/comments/"+first["id"].(string)+"/resolve", "editor", nil, http.StatusOK)

	if err := env.db.Model(&users.User{}).Where("id = ?", "user-editor").Update("role", users.RoleViewer).Error; err != nil {
		t.Fatalf("failed to demote editor: %v", err)
	}
	env.expect(t, http.MethodPost, "/comments/"+second["id"].(string)+"/resolve", "editor", nil, http.StatusForbidden)

	if err := env.db.Where("id = ?", "user-editor").Delete(&users.User{}).Error; err != nil {
		t.Fatalf("failed to delete editor: %v", err)
	}
	env.expect(t, http.MethodGet, "/projects", "editor", nil, http.StatusUnauthorized)
}

func TestProjectStreamEmitsServerSentEvents(t *testing.T) {
	env := newAPIEnv(t)
	projectID := env.createProject(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/projects/"+projectID+"/stream", http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	request.Header.Set("Authorization", "Bearer "+env.tokens["editor"])
	streamResp, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer streamResp.Body.Close()
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}

	env.expect(t, http.MethodPost, "/projects/"+projectID+"/submit", "editor", nil, http.StatusOK)

	type readResult struct {
		line string
		err  error
	}
	streamReader := bufio.NewReader(streamResp.Body)
	currentEventType := ""
	deadline := time.After(5 * time.Second)
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-deadline:
			t.Fatal("timed out waiting for realtime event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != string(quotes.EventStatusChanged) {
				continue
			}
			var event quotes.Event
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &event); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if event.Status != quotes.StatusReview {
				t.Fatalf("unexpected event %#v", event)
			}
			return
		}
	}
}
