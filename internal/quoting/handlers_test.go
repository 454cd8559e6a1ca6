package quoting

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/equiplease/quote-api/internal/common"
	"github.com/equiplease/quote-api/internal/save"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	svc, st := newTestService(t)
	return &Handler{
		Svc:      svc,
		Sessions: save.NewManager(st, time.Hour, zerolog.Nop()),
		Logger:   zerolog.Nop(),
	}
}

func testRouter(h *Handler, userID string) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(common.WithUserID(req.Context(), userID)))
		})
	})
	r.Group(h.Routes)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out.Data
}

func TestCreateAndGetQuote(t *testing.T) {
	h := newTestHandler(t)
	router := testRouter(h, "alice")

	rec := doJSON(t, router, http.MethodPost, "/quotes", `{"customer":"ACME"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeData(t, rec)
	q := data["quote"].(map[string]any)
	require.Equal(t, "draft", q["status"])
	require.Contains(t, q["reference"], "Q-")

	id := q["id"].(string)
	rec = doJSON(t, router, http.MethodGet, "/quotes/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	data = decodeData(t, rec)
	require.NotNil(t, data["derived"])
}

func TestUpdateSlotReturnsDerivedPricing(t *testing.T) {
	h := newTestHandler(t)
	router := testRouter(h, "alice")

	rec := doJSON(t, router, http.MethodPost, "/quotes", `{"customer":"ACME"}`)
	id := decodeData(t, rec)["quote"].(map[string]any)["id"].(string)

	slot := `{"familyCode":"FLT","modelCode":"FLT-25","quantity":2,"baseCost":20000,` +
		`"markupPct":25,"residualPct":20,"annualRatePct":6,"termMonths":60,"hoursPerMonth":120}`
	rec = doJSON(t, router, http.MethodPut, "/quotes/"+id+"/slots/0", slot)
	require.Equal(t, http.StatusOK, rec.Code)

	derived := decodeData(t, rec)["derived"].(map[string]any)
	totals := derived["totals"].(map[string]any)
	require.Equal(t, float64(1), totals["ActiveSlots"])
	require.Equal(t, float64(2), totals["TotalUnits"])
}

func TestUpdateSlotRejectsUnknownField(t *testing.T) {
	h := newTestHandler(t)
	router := testRouter(h, "alice")

	rec := doJSON(t, router, http.MethodPost, "/quotes", `{"customer":"ACME"}`)
	id := decodeData(t, rec)["quote"].(map[string]any)["id"].(string)

	rec = doJSON(t, router, http.MethodPut, "/quotes/"+id+"/slots/0", `{"baseCosts":5}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitWithoutActiveSlotsIs422(t *testing.T) {
	h := newTestHandler(t)
	router := testRouter(h, "alice")

	rec := doJSON(t, router, http.MethodPost, "/quotes", `{"customer":"ACME"}`)
	id := decodeData(t, rec)["quote"].(map[string]any)["id"].(string)

	rec = doJSON(t, router, http.MethodPost, "/quotes/"+id+"/submit", `{"approverId":"carol"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var out struct {
		Error common.ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, "VALIDATION", out.Error.Code)
	require.NotNil(t, out.Error.Details)
}

func TestSubmitFlushesPendingEdits(t *testing.T) {
	h := newTestHandler(t)
	router := testRouter(h, "alice")

	rec := doJSON(t, router, http.MethodPost, "/quotes", `{"customer":"ACME"}`)
	id := decodeData(t, rec)["quote"].(map[string]any)["id"].(string)

	slot := `{"familyCode":"FLT","modelCode":"FLT-25","quantity":2,"baseCost":20000,` +
		`"markupPct":25,"residualPct":20,"annualRatePct":6,"termMonths":60,"hoursPerMonth":120}`
	rec = doJSON(t, router, http.MethodPut, "/quotes/"+id+"/slots/0", slot)
	require.Equal(t, http.StatusOK, rec.Code)

	// Submit lands inside the debounce window. The pending edit must reach
	// the store before the transition loads the record; otherwise validation
	// would see the stored empty fleet and the edit would be dropped.
	rec = doJSON(t, router, http.MethodPost, "/quotes/"+id+"/submit", `{"approverId":"carol"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	q := decodeData(t, rec)["quote"].(map[string]any)
	require.Equal(t, "in_review", q["status"])
	// Flush plus transition: two persisted writes after the create.
	require.Equal(t, float64(3), q["version"])

	first := q["slots"].([]any)[0].(map[string]any)
	require.Equal(t, false, first["empty"])
	require.Equal(t, "FLT", first["familyCode"])
}

func TestForeignEditorIsForbidden(t *testing.T) {
	h := newTestHandler(t)
	alice := testRouter(h, "alice")
	mallory := testRouter(h, "mallory")

	rec := doJSON(t, alice, http.MethodPost, "/quotes", `{"customer":"ACME"}`)
	id := decodeData(t, rec)["quote"].(map[string]any)["id"].(string)

	rec = doJSON(t, mallory, http.MethodDelete, "/quotes/"+id+"/slots/0", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSaveFlushPersistsAndBumpsVersion(t *testing.T) {
	h := newTestHandler(t)
	router := testRouter(h, "alice")

	rec := doJSON(t, router, http.MethodPost, "/quotes", `{"customer":"ACME"}`)
	id := decodeData(t, rec)["quote"].(map[string]any)["id"].(string)

	slot := `{"familyCode":"FLT","quantity":1,"baseCost":10000,"markupPct":20,"termMonths":36}`
	rec = doJSON(t, router, http.MethodPut, "/quotes/"+id+"/slots/0", slot)
	require.Equal(t, http.StatusOK, rec.Code)
	// Debounced: the version is still the created one.
	v := decodeData(t, rec)["quote"].(map[string]any)["version"].(float64)
	require.Equal(t, float64(1), v)

	rec = doJSON(t, router, http.MethodPost, "/quotes/"+id+"/save", "")
	require.Equal(t, http.StatusOK, rec.Code)
	v = decodeData(t, rec)["quote"].(map[string]any)["version"].(float64)
	require.Equal(t, float64(2), v)
}

func TestSaveWithoutOpenQuoteIsConflict(t *testing.T) {
	h := newTestHandler(t)
	router := testRouter(h, "alice")

	rec := doJSON(t, router, http.MethodPost, "/quotes", `{"customer":"ACME"}`)
	id := decodeData(t, rec)["quote"].(map[string]any)["id"].(string)

	// A different user never opened this quote.
	bob := testRouter(h, "bob")
	rec = doJSON(t, bob, http.MethodPost, "/quotes/"+id+"/save", "")
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestLockRoundTripOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	router := testRouter(h, "alice")

	rec := doJSON(t, router, http.MethodPost, "/quotes", `{"customer":"ACME"}`)
	id := decodeData(t, rec)["quote"].(map[string]any)["id"].(string)

	rec = doJSON(t, router, http.MethodPost, "/quotes/"+id+"/lock", "")
	require.Equal(t, http.StatusOK, rec.Code)
	q := decodeData(t, rec)["quote"].(map[string]any)
	require.Equal(t, "alice", q["lockedBy"])

	rec = doJSON(t, router, http.MethodDelete, "/quotes/"+id+"/lock", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownQuoteIs404(t *testing.T) {
	h := newTestHandler(t)
	router := testRouter(h, "alice")

	rec := doJSON(t, router, http.MethodGet, "/quotes/5e0a2a02-90f5-4dd4-9a48-4c55ec297a7c", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/quotes/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
