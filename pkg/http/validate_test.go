package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/segmentio/encoding/json"
)

type pageRequest struct {
	Limit int    `query:"limit" default:"50" validate:"gte=1,lte=100"`
	Order string `query:"order" default:"desc" validate:"oneof=asc desc"`
}

func bindQuery(t *testing.T, query string) []ValidationError {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/items?"+query, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	var r pageRequest
	return ReadAndValidateRequest(c, &r)
}

func TestReadAndValidateRequestDefaults(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/items", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	var r pageRequest
	if errs := ReadAndValidateRequest(c, &r); errs != nil {
		t.Fatalf("unexpected errors %+v", errs)
	}
	if r.Limit != 50 || r.Order != "desc" {
		t.Fatalf("defaults not applied: %+v", r)
	}
}

func TestReadAndValidateRequestRejects(t *testing.T) {
	errs := bindQuery(t, "limit=500&order=sideways")
	if len(errs) != 2 {
		t.Fatalf("expected two errors, got %+v", errs)
	}
	if errs[0].Field != "limit" || errs[0].Code != "ERR_LTE" {
		t.Fatalf("unexpected first error %+v", errs[0])
	}
	if errs[1].Field != "order" || !strings.Contains(errs[1].Message, "asc, desc") {
		t.Fatalf("unexpected second error %+v", errs[1])
	}

	errs = bindQuery(t, "limit=abc")
	if len(errs) != 1 || errs[0].Code != "ERR_BIND" {
		t.Fatalf("expected bind error, got %+v", errs)
	}
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), rec)

	err := TooManyRequestsError("slow down").WithParam("retry_after_seconds", 5)
	if aerr := AppErrorResponse(c, err); aerr != nil {
		t.Fatalf("render: %v", aerr)
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	var body struct {
		Status int         `json:"status"`
		Data   []*AppError `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != http.StatusTooManyRequests || len(body.Data) != 1 || body.Data[0].Code != "ERR_RATE_LIMITED" {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	_ = AppErrorResponse(c, errors.New("db password is hunter2"))
	if rec.Code != http.StatusInternalServerError || strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatalf("internal error leaked: %d %s", rec.Code, rec.Body.String())
	}
}
