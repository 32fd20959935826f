package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/opensource-finance/sanctiond/internal/cache"
	"github.com/opensource-finance/sanctiond/internal/calculator"
	"github.com/opensource-finance/sanctiond/internal/catalog"
	"github.com/opensource-finance/sanctiond/internal/deadline"
	"github.com/opensource-finance/sanctiond/internal/domain"
	"github.com/opensource-finance/sanctiond/internal/metrics"
	"github.com/opensource-finance/sanctiond/internal/recidivism"
	"github.com/opensource-finance/sanctiond/internal/registry"
	"github.com/opensource-finance/sanctiond/internal/repository"
	"github.com/opensource-finance/sanctiond/internal/sanction"
	"github.com/opensource-finance/sanctiond/internal/worker"
)

const testSecret = "test-secret"

var (
	drafter  = domain.Actor{ID: "maria", Role: domain.RoleDrafter}
	approver = domain.Actor{ID: "nikos", Role: domain.RoleApprover}
)

// createTestServer wires the full stack over a temporary SQLite database.
func createTestServer(t *testing.T, auth domain.AuthConfig) *Server {
	t.Helper()

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "api.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	c := cache.NewLRUCache(100)
	cat, err := catalog.New()
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	resolver, err := deadline.NewResolver(domain.DefaultDeadlines())
	if err != nil {
		t.Fatalf("failed to create resolver: %v", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	directory := registry.NewDirectory(repo, c, time.Minute)

	svc, err := sanction.NewService(sanction.Deps{
		Store:      repo,
		Structures: directory,
		Rules:      cat,
		Recidivism: recidivism.NewCounter(repo, c, time.Minute),
		Calculator: calculator.New(domain.DefaultPolicy()),
		Deadlines:  resolver,
		Metrics:    m,
		Now:        func() time.Time { return time.Date(2025, 1, 10, 12, 0, 0, 0, resolver.Location()) },
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}
	return NewServer(cfg, Deps{
		Repo:       repo,
		Cache:      c,
		Catalog:    cat,
		Structures: directory,
		Service:    svc,
		Sweeper:    worker.NewSweeper(svc, domain.WorkerConfig{SweepConcurrency: 2}, m),
		Gatherer:   reg,
		Auth:       auth,
		Version:    "test-v1",
	})
}

func headerAuth() domain.AuthConfig {
	return domain.AuthConfig{JWTSecret: testSecret, AllowHeaderActors: true}
}

// do sends a JSON request as actor. A zero actor sends no credentials.
func do(t *testing.T, server *Server, method, path string, body interface{}, actor domain.Actor) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor.ID != "" {
		req.Header.Set(ActorIDHeader, actor.ID)
		req.Header.Set(ActorRoleHeader, string(actor.Role))
	}

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

// seed stores structure 7 and rule SAFETY-01 (2000 EUR, range 1000-5000 EUR).
func seed(t *testing.T, server *Server) {
	t.Helper()

	rr := do(t, server, http.MethodPut, "/structures/7", domain.Structure{
		Name:               "Agios Nikolaos",
		TypeID:             "elderly_care",
		RepresentativeName: "Giorgos Papadopoulos",
		RepresentativeAFM:  "123456789",
	}, drafter)
	expectStatus(t, rr, http.StatusOK)

	rr = do(t, server, http.MethodPost, "/rules", map[string]interface{}{
		"violationCode":        "SAFETY-01",
		"violationName":        "Blocked fire exit",
		"category":             "safety",
		"legalReference":       "N. 4756/2020 art. 12",
		"baseFine":             200000,
		"minFine":              100000,
		"maxFine":              500000,
		"canTriggerSuspension": true,
	}, approver)
	expectStatus(t, rr, http.StatusOK)
}

func inAthens(t *testing.T, raw interface{}) string {
	t.Helper()
	s, _ := raw.(string)
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("failed to parse time %q: %v", s, err)
	}
	loc, _ := time.LoadLocation("Europe/Athens")
	return ts.In(loc).Format("2006-01-02")
}

func TestDecisionLifecycle(t *testing.T) {
	server := createTestServer(t, headerAuth())
	seed(t, server)

	rr := do(t, server, http.MethodPost, "/calculate", map[string]string{
		"violationCode": "SAFETY-01",
		"structureId":   "7",
	}, domain.Actor{})
	expectStatus(t, rr, http.StatusOK)
	calc := decode(t, rr)
	if calc["finalAmount"] != float64(200000) || calc["amountState"] != float64(100000) || calc["amountRegion"] != float64(100000) {
		t.Errorf("unexpected calculation: %v", calc)
	}

	rr = do(t, server, http.MethodPost, "/decisions", map[string]interface{}{
		"violationCode": "SAFETY-01",
		"structureId":   "7",
		"justification": "Fire exit on the ground floor was locked during inspection",
	}, drafter)
	expectStatus(t, rr, http.StatusCreated)
	created := decode(t, rr)
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("expected decision id")
	}
	if created["status"] != "draft" {
		t.Errorf("expected draft, got %v", created["status"])
	}
	obligor, _ := created["obligor"].(map[string]interface{})
	if obligor["afm"] != "123456789" {
		t.Errorf("expected obligor prefilled from representative, got %v", obligor)
	}

	base := "/decisions/" + id

	t.Run("DrafterCannotApprove", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, base+"/submit", nil, drafter)
		expectStatus(t, rr, http.StatusOK)

		rr = do(t, server, http.MethodPost, base+"/approve", nil, drafter)
		expectStatus(t, rr, http.StatusForbidden)
	})

	t.Run("Approve", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, base+"/approve", nil, approver)
		expectStatus(t, rr, http.StatusOK)
		d := decode(t, rr)
		protocol, _ := d["protocolNumber"].(string)
		if !strings.HasSuffix(protocol, "/000001") {
			t.Errorf("expected first protocol number, got %q", protocol)
		}
		if d["approverId"] != approver.ID {
			t.Errorf("expected approver recorded, got %v", d["approverId"])
		}
	})

	t.Run("ApproveTwiceIsInvalidState", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, base+"/approve", nil, approver)
		expectStatus(t, rr, http.StatusConflict)
		body := decode(t, rr)
		if body["currentStatus"] != "approved" || body["operation"] != "approve" {
			t.Errorf("unexpected invalid state body: %v", body)
		}
	})

	t.Run("Notify", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, base+"/notify", map[string]string{
			"method":     "registered_mail",
			"notifiedAt": "2025-01-10T12:00:00+02:00",
		}, drafter)
		expectStatus(t, rr, http.StatusOK)
		d := decode(t, rr)
		if got := inAthens(t, d["paymentDeadline"]); got != "2025-02-09" {
			t.Errorf("expected payment deadline 2025-02-09, got %s", got)
		}
		if got := inAthens(t, d["appealDeadline"]); got != "2025-01-25" {
			t.Errorf("expected appeal deadline 2025-01-25, got %s", got)
		}
	})

	t.Run("NotOverdueOnDeadline", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, base+"/overdue", map[string]string{
			"asOf": "2025-02-09T23:00:00+02:00",
		}, drafter)
		expectStatus(t, rr, http.StatusOK)
		if decode(t, rr)["changed"] != false {
			t.Error("expected no change on the deadline date")
		}
	})

	t.Run("Sweep", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/decisions/overdue-sweep", map[string]string{
			"asOf": "2025-03-01T10:00:00+02:00",
		}, drafter)
		expectStatus(t, rr, http.StatusOK)
		result := decode(t, rr)
		if result["checked"] != float64(1) || result["marked"] != float64(1) {
			t.Errorf("unexpected sweep result: %v", result)
		}
	})

	t.Run("PayAfterOverdue", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, base+"/payment", map[string]string{"outcome": "paid"}, drafter)
		expectStatus(t, rr, http.StatusOK)
		d := decode(t, rr)
		if d["status"] != "paid" {
			t.Errorf("expected paid, got %v", d["status"])
		}
		if ops, _ := d["allowedOperations"].([]interface{}); len(ops) != 1 || ops[0] != "export" {
			t.Errorf("expected only export to remain, got %v", d["allowedOperations"])
		}
	})

	t.Run("Export", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, base+"/exports", nil, drafter)
		expectStatus(t, rr, http.StatusCreated)
		rec := decode(t, rr)
		if rec["stateBudgetCode"] != "1560989001" || rec["regionBudgetCode"] != "3741" {
			t.Errorf("unexpected budget codes: %v", rec)
		}
		if rec["amountState"] != float64(100000) {
			t.Errorf("expected state share 100000, got %v", rec["amountState"])
		}

		rr = do(t, server, http.MethodGet, base+"/exports", nil, domain.Actor{})
		expectStatus(t, rr, http.StatusOK)
		if decode(t, rr)["count"] != float64(1) {
			t.Error("expected one export record")
		}
	})

	t.Run("ReadModel", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, base, nil, domain.Actor{})
		expectStatus(t, rr, http.StatusOK)
		v := decode(t, rr)
		if v["structureName"] != "Agios Nikolaos" || v["status"] != "paid" || v["exported"] != true {
			t.Errorf("unexpected view: %v", v)
		}

		rr = do(t, server, http.MethodGet, "/decisions?status=paid&structureId=7", nil, domain.Actor{})
		expectStatus(t, rr, http.StatusOK)
		if decode(t, rr)["count"] != float64(1) {
			t.Error("expected one paid decision")
		}
	})

	t.Run("RecidivismRaisesNextFine", func(t *testing.T) {
		rr := do(t, server, http.MethodPost, "/calculate", map[string]string{
			"violationCode": "SAFETY-01",
			"structureId":   "7",
		}, domain.Actor{})
		expectStatus(t, rr, http.StatusOK)
		calc := decode(t, rr)
		if calc["recidivismCount"] != float64(1) || calc["finalAmount"] != float64(250000) {
			t.Errorf("expected one prior sanction and 2500 EUR, got %v", calc)
		}
	})
}

func TestErrorMapping(t *testing.T) {
	server := createTestServer(t, headerAuth())
	seed(t, server)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		actor  domain.Actor
		want   int
	}{
		{"UnknownDecision", http.MethodGet, "/decisions/nope", nil, domain.Actor{}, http.StatusNotFound},
		{"InvalidJSON", http.MethodPost, "/decisions", "not-json", drafter, http.StatusBadRequest},
		{"MissingFields", http.MethodPost, "/calculate", map[string]string{}, domain.Actor{}, http.StatusUnprocessableEntity},
		{"UnknownRule", http.MethodPost, "/calculate", map[string]string{"violationCode": "NOPE", "structureId": "7"}, domain.Actor{}, http.StatusNotFound},
		{"UnknownStructure", http.MethodPost, "/calculate", map[string]string{"violationCode": "SAFETY-01", "structureId": "99"}, domain.Actor{}, http.StatusNotFound},
		{"AmountOutOfRange", http.MethodPost, "/calculate", map[string]interface{}{"violationCode": "SAFETY-01", "structureId": "7", "customAmount": 900000}, domain.Actor{}, http.StatusUnprocessableEntity},
		{"BadStatusFilter", http.MethodGet, "/decisions?status=lost", nil, domain.Actor{}, http.StatusUnprocessableEntity},
		{"AnonymousCreate", http.MethodPost, "/decisions", map[string]string{"violationCode": "SAFETY-01", "structureId": "7"}, domain.Actor{}, http.StatusForbidden},
		{"ApproverCannotCreate", http.MethodPost, "/decisions", map[string]string{"violationCode": "SAFETY-01", "structureId": "7"}, approver, http.StatusForbidden},
		{"InvalidRule", http.MethodPost, "/rules", map[string]interface{}{"violationCode": "X", "violationName": "X", "category": "fire"}, approver, http.StatusUnprocessableEntity},
		{"BrokenApplicability", http.MethodPost, "/rules", map[string]interface{}{"violationCode": "X", "violationName": "X", "category": "admin", "applicability": "!!!"}, approver, http.StatusUnprocessableEntity},
		{"DisableUnknownRule", http.MethodDelete, "/rules/NOPE", nil, approver, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, server, tt.method, tt.path, tt.body, tt.actor)
			expectStatus(t, rr, tt.want)
		})
	}

	t.Run("SubmitListsMissingFields", func(t *testing.T) {
		rr := do(t, server, http.MethodPut, "/structures/8", domain.Structure{Name: "No Rep", TypeID: "elderly_care"}, drafter)
		expectStatus(t, rr, http.StatusOK)

		rr = do(t, server, http.MethodPost, "/decisions", map[string]string{"violationCode": "SAFETY-01", "structureId": "8"}, drafter)
		expectStatus(t, rr, http.StatusCreated)
		id := decode(t, rr)["id"].(string)

		rr = do(t, server, http.MethodPost, "/decisions/"+id+"/submit", nil, drafter)
		expectStatus(t, rr, http.StatusUnprocessableEntity)
		fields, _ := decode(t, rr)["fields"].([]interface{})
		if len(fields) != 3 {
			t.Errorf("expected justification, obligor.name and obligor.afm, got %v", fields)
		}
	})
}

func TestRuleManagement(t *testing.T) {
	server := createTestServer(t, headerAuth())
	seed(t, server)

	rr := do(t, server, http.MethodPost, "/rules", map[string]interface{}{
		"violationCode":  "CHILD-01",
		"violationName":  "Missing play area",
		"category":       "general",
		"baseFine":       50000,
		"minFine":        50000,
		"maxFine":        50000,
		"structureTypes": []string{"child_daycare"},
	}, approver)
	expectStatus(t, rr, http.StatusOK)

	rr = do(t, server, http.MethodGet, "/rules", nil, domain.Actor{})
	expectStatus(t, rr, http.StatusOK)
	if decode(t, rr)["count"] != float64(2) {
		t.Error("expected two rules")
	}

	rr = do(t, server, http.MethodGet, "/rules?structureId=7", nil, domain.Actor{})
	expectStatus(t, rr, http.StatusOK)
	if decode(t, rr)["count"] != float64(1) {
		t.Error("expected only the rule applicable to an elderly care home")
	}

	rr = do(t, server, http.MethodDelete, "/rules/CHILD-01", nil, approver)
	expectStatus(t, rr, http.StatusNoContent)

	rr = do(t, server, http.MethodGet, "/rules/CHILD-01", nil, domain.Actor{})
	expectStatus(t, rr, http.StatusOK)
	if decode(t, rr)["enabled"] != false {
		t.Error("expected disabled rule to remain readable")
	}

	rr = do(t, server, http.MethodPost, "/rules/reload", nil, domain.Actor{})
	expectStatus(t, rr, http.StatusForbidden)

	rr = do(t, server, http.MethodPost, "/rules/reload", nil, approver)
	expectStatus(t, rr, http.StatusOK)
	if decode(t, rr)["count"] != float64(1) {
		t.Error("expected one enabled rule after reload")
	}
}

func TestActorResolution(t *testing.T) {
	createBody := map[string]string{"violationCode": "SAFETY-01", "structureId": "7"}

	bearer := func(t *testing.T, server *Server, token string) *httptest.ResponseRecorder {
		body, _ := json.Marshal(createBody)
		req := httptest.NewRequest(http.MethodPost, "/decisions", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)
		return rr
	}

	t.Run("ValidToken", func(t *testing.T) {
		server := createTestServer(t, headerAuth())
		seed(t, server)

		token, err := NewActorToken(testSecret, drafter, time.Minute)
		if err != nil {
			t.Fatalf("failed to sign token: %v", err)
		}
		rr := bearer(t, server, token)
		expectStatus(t, rr, http.StatusCreated)
		if decode(t, rr)["drafterId"] != drafter.ID {
			t.Error("expected drafter from token subject")
		}
	})

	t.Run("WrongSecret", func(t *testing.T) {
		server := createTestServer(t, headerAuth())
		token, _ := NewActorToken("other-secret", drafter, time.Minute)
		expectStatus(t, bearer(t, server, token), http.StatusUnauthorized)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		server := createTestServer(t, headerAuth())
		token, _ := NewActorToken(testSecret, drafter, -time.Minute)
		expectStatus(t, bearer(t, server, token), http.StatusUnauthorized)
	})

	t.Run("SystemRoleRejected", func(t *testing.T) {
		server := createTestServer(t, headerAuth())
		token, _ := NewActorToken(testSecret, domain.SystemActor, time.Minute)
		expectStatus(t, bearer(t, server, token), http.StatusUnauthorized)

		rr := do(t, server, http.MethodPost, "/decisions", createBody, domain.SystemActor)
		expectStatus(t, rr, http.StatusUnauthorized)
	})

	t.Run("HeaderActorsDisabled", func(t *testing.T) {
		server := createTestServer(t, domain.AuthConfig{JWTSecret: testSecret})
		rr := do(t, server, http.MethodPut, "/structures/7", domain.Structure{Name: "A", TypeID: "elderly_care"}, drafter)
		expectStatus(t, rr, http.StatusForbidden)
	})

	t.Run("ActorMiddlewareStoresActor", func(t *testing.T) {
		var captured domain.Actor
		handler := ActorMiddleware(headerAuth())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			captured = GetActor(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(ActorIDHeader, "nikos")
		req.Header.Set(ActorRoleHeader, "approver")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		if captured != approver {
			t.Errorf("expected %v, got %v", approver, captured)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t, headerAuth())

	t.Run("HealthCheck", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/health", nil, domain.Actor{})
		expectStatus(t, rr, http.StatusOK)

		resp := decode(t, rr)
		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%v'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%v'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		rr := do(t, server, http.MethodGet, "/ready", nil, domain.Actor{})
		expectStatus(t, rr, http.StatusOK)
	})

	t.Run("Metrics", func(t *testing.T) {
		do(t, server, http.MethodPost, "/decisions", map[string]string{}, domain.Actor{})

		rr := do(t, server, http.MethodGet, "/metrics", nil, domain.Actor{})
		expectStatus(t, rr, http.StatusOK)
		if !strings.Contains(rr.Body.String(), "sanctiond_decision_transitions_total") {
			t.Error("expected transition counter in exposition")
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
