package lending

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIB-backend/internal/access"
	"LIB-backend/internal/platform/auth"
)

// テスト用: X-User / X-Role ヘッダから Identity を作る
func fakeAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := access.ParseRole(c.GetHeader("X-Role"))
		auth.SetIdentity(c, access.Identity{UserID: c.GetHeader("X-User"), Role: role})
	}
}

type apiClient struct {
	t *testing.T
	r *gin.Engine
}

func newAPI(t *testing.T) (*apiClient, *fakeClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	clock := &fakeClock{now: day0}
	eng, err := NewEngine(NewMemoryStore(time.Second), DefaultPolicy(), WithClock(clock))
	require.NoError(t, err)

	r := gin.New()
	g := r.Group("/api/v1", fakeAuth())
	RegisterRoutes(g, eng)
	return &apiClient{t: t, r: r}, clock
}

func (a *apiClient) do(method, path string, id access.Identity, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User", id.UserID)
	req.Header.Set("X-Role", id.Role.String())
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return string(decode[errorDTO](t, w).Error.Code)
}

func TestHandler_BorrowReturnFlow(t *testing.T) {
	api, clock := newAPI(t)

	w := api.do(http.MethodPost, "/books", admin, gin.H{"title": "Dune", "author": "Herbert", "rent_per_day": "1.25"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	book := decode[BookResponse](t, w)
	assert.True(t, book.Available)
	assert.Equal(t, fmt.Sprintf("/api/v1/books/%d", book.ID), w.Header().Get("Location"))

	w = api.do(http.MethodPost, "/borrows", u1, gin.H{"book_id": book.ID, "days": 7})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	br := decode[BorrowResponse](t, w)
	assert.Equal(t, "2025-03-10", br.BorrowDate)
	assert.Equal(t, "2025-03-17", br.DueDate)
	assert.False(t, br.Returned)

	w = api.do(http.MethodPost, "/borrows", u2, gin.H{"book_id": book.ID, "days": 7})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "UNAVAILABLE", errCode(t, w))

	w = api.do(http.MethodGet, "/borrows/"+br.ULID, u1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, br.ID, decode[BorrowResponse](t, w).ID)

	clock.AddDays(9)
	w = api.do(http.MethodPost, fmt.Sprintf("/borrows/%d/return", br.ID), u1, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ret := decode[BorrowResponse](t, w)
	assert.True(t, ret.Returned)
	require.NotNil(t, ret.ReturnDate)
	assert.Equal(t, "2025-03-19", *ret.ReturnDate)
	assert.Equal(t, "2.50", ret.Penalty.StringFixed(2))

	w = api.do(http.MethodPost, fmt.Sprintf("/borrows/%d/return", br.ID), u1, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_RETURNED", errCode(t, w))

	w = api.do(http.MethodGet, "/borrows/mine", u1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[BorrowListResponse](t, w).Total)
}

func TestHandler_StatusMapping(t *testing.T) {
	api, _ := newAPI(t)

	w := api.do(http.MethodPost, "/books", u1, gin.H{"title": "Dune"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errCode(t, w))

	w = api.do(http.MethodGet, "/books/42", u1, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errCode(t, w))

	w = api.do(http.MethodGet, "/books/abc", u1, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPost, "/books", admin, gin.H{"author": "nobody"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_ARGUMENT", errCode(t, w))

	w = api.do(http.MethodGet, "/borrows?overdue=maybe", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodGet, "/borrows", u1, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodGet, "/books", access.Identity{}, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "no identity means no access")
}

func TestHandler_DeleteBookCascade(t *testing.T) {
	api, _ := newAPI(t)

	w := api.do(http.MethodPost, "/books", admin, gin.H{"title": "Dune"})
	require.Equal(t, http.StatusCreated, w.Code)
	book := decode[BookResponse](t, w)
	w = api.do(http.MethodPost, "/borrows", u1, gin.H{"book_id": book.ID, "days": 3})
	require.Equal(t, http.StatusCreated, w.Code)

	w = api.do(http.MethodDelete, fmt.Sprintf("/books/%d", book.ID), admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", errCode(t, w))

	w = api.do(http.MethodDelete, fmt.Sprintf("/books/%d?cascade=true", book.ID), admin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(http.MethodGet, "/borrows?open=true", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, decode[BorrowListResponse](t, w).Total)
}

func TestHandler_ListBooksQuery(t *testing.T) {
	api, _ := newAPI(t)
	for _, title := range []string{"Dune", "Emma", "Dune Messiah"} {
		w := api.do(http.MethodPost, "/books", admin, gin.H{"title": title})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := api.do(http.MethodGet, "/books?title=DUNE", u1, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[BookListResponse](t, w).Total)

	w = api.do(http.MethodGet, "/books?available=yes", u1, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestToHTTPStatus(t *testing.T) {
	cases := map[error]int{
		NewInvalidArgument("x"):                                 http.StatusBadRequest,
		NewForbidden("x"):                                       http.StatusForbidden,
		NewNotFound("x"):                                        http.StatusNotFound,
		NewConflict("x"):                                        http.StatusConflict,
		NewUnavailable("x"):                                     http.StatusConflict,
		NewAlreadyReturned("x"):                                 http.StatusConflict,
		fmt.Errorf("wrapped: %w", NewNotFound("x")):             http.StatusNotFound,
		errors.New("boom"):                                      http.StatusInternalServerError,
		fmt.Errorf("lock book 1: %w", context.DeadlineExceeded): http.StatusGatewayTimeout,
		context.Canceled:                                        http.StatusGatewayTimeout,
	}
	for err, want := range cases {
		assert.Equal(t, want, ToHTTPStatus(err), err.Error())
	}

	// 想定外のエラーは中身を出さない
	body := errorFromErr(errors.New("dsn password=secret"))
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.Equal(t, "internal error", body.Error.Message)

	// 呼び出し側のタイムアウトはサーバ障害として扱わない
	body = errorFromErr(fmt.Errorf("lock book 1: %w", context.DeadlineExceeded))
	assert.Equal(t, CodeTimeout, body.Error.Code)
}
