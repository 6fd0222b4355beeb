package payments

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func newTestRouter(t *testing.T, targets ...memTarget) (http.Handler, fixture) {
	t.Helper()
	f := newFixture(t, targets...)
	r := chi.NewRouter()
	NewHandler(nil, f.svc).MountRoutes(r)
	return r, f
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

const paymentBody = `{"company_id":1,"party_type":"Customer","party_id":7,"party_account_id":1200,"bank_account_id":1000,"amount":"150.00","posting_date":"2024-03-15"}`

func TestPreviewPaymentHandler(t *testing.T) {
	h, _ := newTestRouter(t, invoice(1, today, "100"))

	rec := do(t, h, http.MethodPost, "/payments/preview", paymentBody, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp allocationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "automatic", resp.Mode)
	require.Equal(t, "100.00", resp.Allocated)
	require.Equal(t, "50.00", resp.Unallocated)
	require.Len(t, resp.Entries, 1)
	require.True(t, resp.Posting.Balanced)
}

func TestSubmitPaymentHandlerReplays(t *testing.T) {
	h, f := newTestRouter(t, invoice(1, today, "100"))
	headers := map[string]string{headerIdempotencyKey: "req-1", headerActorID: "42"}

	rec := do(t, h, http.MethodPost, "/payments", paymentBody, headers)
	require.Equal(t, http.StatusCreated, rec.Code)
	var first receiptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	require.False(t, first.Replayed)

	rec = do(t, h, http.MethodPost, "/payments", paymentBody, headers)
	require.Equal(t, http.StatusOK, rec.Code)
	var second receiptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	require.True(t, second.Replayed)
	require.Equal(t, first.Payment.VoucherNo, second.Payment.VoucherNo)
	require.Equal(t, int64(42), f.audit.logs[0].ActorID)
}

func TestSubmitPaymentHandlerRejectsNonPositiveAmount(t *testing.T) {
	h, _ := newTestRouter(t, invoice(1, today, "100"))
	body := strings.Replace(paymentBody, `"150.00"`, `"-5"`, 1)

	rec := do(t, h, http.MethodPost, "/payments", body, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "non_positive_amount", problem.Kind)
	require.Equal(t, "amount", problem.Field)
	require.Nil(t, problem.Line)
}

func TestSubmitPaymentHandlerValidatesRequest(t *testing.T) {
	h, _ := newTestRouter(t)
	body := strings.Replace(paymentBody, `"Customer"`, `"Employee"`, 1)

	rec := do(t, h, http.MethodPost, "/payments", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Len(t, problem.Errors, 1)
	require.Equal(t, "paymentRequest.PartyType", problem.Errors[0].Field)
}

func TestSubmitPaymentHandlerRejectsUnknownFields(t *testing.T) {
	h, _ := newTestRouter(t)
	body := strings.Replace(paymentBody, `{`, `{"bogus":true,`, 1)

	rec := do(t, h, http.MethodPost, "/payments", body, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelPaymentHandler(t *testing.T) {
	h, f := newTestRouter(t, invoice(1, today, "100"))

	rec := do(t, h, http.MethodPost, "/payments", paymentBody, map[string]string{headerIdempotencyKey: "req-1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var receipt receiptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))

	path := "/payments/" + receipt.Payment.VoucherNo + "/cancel?company_id=1&posting_date=2024-03-20"
	rec = do(t, h, http.MethodPost, path, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var reversal postingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reversal))
	require.Equal(t, "2024-03-20", reversal.PostingDate)
	require.True(t, f.repo.outstanding(1).Equal(decimal.NewFromInt(100)))

	rec = do(t, h, http.MethodPost, path, "", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/payments/PAY-NOPE/cancel?company_id=1", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPost, "/payments/PAY-NOPE/cancel", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOutstandingHandler(t *testing.T) {
	h, _ := newTestRouter(t,
		invoice(1, today.AddDate(0, 0, -40), "100"),
		invoice(2, today.AddDate(0, 0, 3), "50"),
	)

	rec := do(t, h, http.MethodGet, "/parties/customer/7/outstanding?company_id=1&per_page=1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp outstandingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	require.Equal(t, int64(1), resp.Items[0].ID)
	require.Equal(t, "31-60", resp.Items[0].Aging)
	require.Equal(t, "150.00", resp.Total)
	require.Equal(t, 2, resp.Pagination.TotalPages)

	rec = do(t, h, http.MethodGet, "/parties/customer/7/outstanding?company_id=1&page=4611686018427387904&per_page=4", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = outstandingResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Empty(t, resp.Items)

	rec = do(t, h, http.MethodGet, "/parties/customer/7/outstanding?company_id=1&per_page=1000000", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = outstandingResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 2)
	require.Equal(t, shared.MaxPerPage, resp.Pagination.PerPage)

	rec = do(t, h, http.MethodGet, "/parties/employee/7/outstanding?company_id=1", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidatePostingHandler(t *testing.T) {
	h, _ := newTestRouter(t)

	balanced := `{"company_id":1,"voucher_type":"Journal Entry","voucher_no":"JV-1","posting_date":"2024-03-15",
"lines":[{"account_id":1,"account_currency":"USD","debit":"100"},{"account_id":2,"account_currency":"USD","credit":"100"}]}`
	rec := do(t, h, http.MethodPost, "/postings/validate", balanced, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	unbalanced := strings.Replace(balanced, `"credit":"100"`, `"credit":"90"`, 1)
	rec = do(t, h, http.MethodPost, "/postings/validate", unbalanced, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "unbalanced_posting", problem.Kind)

	exhaustive := `{"company_id":1,"voucher_type":"Journal Entry","voucher_no":"JV-2","posting_date":"2024-03-15","mode":"exhaustive",
"lines":[{"account_id":0,"account_currency":"USD","debit":"100"},{"account_id":2,"account_currency":"USD","debit":"5","credit":"5"}]}`
	rec = do(t, h, http.MethodPost, "/postings/validate", exhaustive, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	problem = httpx.ProblemDetail{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, "missing_account", problem.Kind)
	require.NotNil(t, problem.Line)
	require.Equal(t, 0, *problem.Line)
	require.GreaterOrEqual(t, len(problem.Errors), 2)
	require.Equal(t, "unbalanced_line", problem.Errors[1].Kind)
	require.Equal(t, 1, *problem.Errors[1].Line)
}
