package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/sanctiond/internal/api"
	"github.com/opensource-finance/sanctiond/internal/domain"
)

const catalogCSV = `code,name,category,legal_reference,base_fine,min_fine,max_fine,can_trigger_suspension,structure_types,applicability
SAFETY-01,Blocked fire exit,safety,N. 4756/2020 art. 12,2000,1000,5000,true,elderly_care|disability_care,
ADMIN-02,Missing visitor register,ADMIN,,500.00,500,500,false,,
BAD-01,Broken amounts,safety,,abc,1,2,false,,
BAD-02,Base above max,hygiene,,9000,1000,5000,false,,
CHILD-01,Unsafe play area,general,,750.5,500,1000,,child_daycare,structure.name != ''
`

func TestParseCatalog(t *testing.T) {
	rows, errs := ParseCatalog(strings.NewReader(catalogCSV))

	require.Len(t, rows, 3)
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "line 4")
	assert.Contains(t, errs[1].Error(), "line 5")

	safety := rows[0].Rule
	assert.Equal(t, "SAFETY-01", safety.Code)
	assert.Equal(t, int64(200000), safety.BaseFine)
	assert.Equal(t, int64(100000), safety.MinFine)
	assert.Equal(t, int64(500000), safety.MaxFine)
	assert.True(t, safety.CanTriggerSuspension)
	assert.Equal(t, []string{"elderly_care", "disability_care"}, safety.StructureTypes)
	assert.True(t, safety.Enabled)

	admin := rows[1].Rule
	assert.Equal(t, domain.CategoryAdmin, admin.Category)
	assert.True(t, admin.FixedAmount())

	child := rows[2]
	assert.Equal(t, 6, child.Line)
	assert.Equal(t, int64(75050), child.Rule.BaseFine)
	assert.Equal(t, "structure.name != ''", child.Rule.Applicability)
}

func TestParseCatalogMissingColumn(t *testing.T) {
	rows, errs := ParseCatalog(strings.NewReader("code,name\nX,Y\n"))
	assert.Empty(t, rows)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "category")
}

func TestParseEuros(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1500", 150000, false},
		{"1500.5", 150050, false},
		{"0.07", 7, false},
		{"12.345", 0, true},
		{"-1", 0, true},
		{"", 0, true},
		{"1,5", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseEuros(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClientSaveRule(t *testing.T) {
	var received domain.ViolationRule
	var actorID, auth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID = r.Header.Get(api.ActorIDHeader)
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if received.Code == "REJECT" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			w.Write([]byte(`{"error":"validation failed"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := &Client{BaseURL: srv.URL, HTTP: srv.Client(), Actor: domain.Actor{ID: "importer", Role: domain.RoleApprover}}

	rule := &domain.ViolationRule{Code: "SAFETY-01", Name: "Blocked fire exit", Category: domain.CategorySafety, Enabled: true}
	require.NoError(t, client.SaveRule(rule))
	assert.Equal(t, "SAFETY-01", received.Code)
	assert.Equal(t, "importer", actorID)
	assert.Empty(t, auth)

	client.Token = "signed"
	err := client.SaveRule(&domain.ViolationRule{Code: "REJECT"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Equal(t, "Bearer signed", auth)
}
