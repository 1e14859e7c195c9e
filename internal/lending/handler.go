package lending

import (
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"LIB-backend/internal/access"
	"LIB-backend/internal/platform/auth"
	"LIB-backend/internal/platform/requestid"
)

type Handler struct{ eng *Engine }

// RegisterRoutes は書籍・貸出のルートを登録する。
// mutating は貸出/返却の POST にだけ差し込むミドルウェア（Idempotency-Key など）。
func RegisterRoutes(r gin.IRoutes, eng *Engine, mutating ...gin.HandlerFunc) {
	h := &Handler{eng: eng}

	// 1. 書籍
	r.GET("/books", h.ListBooks)
	r.GET("/books/:id", h.GetBook)
	r.POST("/books", h.CreateBook)
	r.PUT("/books/:id", h.UpdateBook)
	// DELETE /books/:id?cascade=true
	r.DELETE("/books/:id", h.DeleteBook)

	// 2. 貸出
	r.POST("/borrows", chain(mutating, h.Borrow)...)
	r.POST("/borrows/:id/return", chain(mutating, h.ReturnBorrow)...)
	r.GET("/borrows", h.ListAllBorrows)
	r.GET("/borrows/mine", h.ListMyBorrows)
	// :id は数値IDでも ULID でもよい
	r.GET("/borrows/:id", h.GetBorrow)
	r.DELETE("/borrows/:id", h.DeleteBorrow)
}

// ---------- books ----------

// GET /books?title=&category=&available=
func (h *Handler) ListBooks(c *gin.Context) {
	f := BookFilter{
		Title:    c.Query("title"),
		Category: c.Query("category"),
	}
	if v := c.Query("available"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "available must be a boolean"))
			return
		}
		f.AvailableOnly = b
	}

	books, err := h.eng.ListBooks(c.Request.Context(), identity(c), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	res := BookListResponse{Items: make([]BookResponse, 0, len(books)), Total: len(books)}
	for i := range books {
		res.Items = append(res.Items, toBookResponse(&books[i]))
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) GetBook(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	b, err := h.eng.GetBook(c.Request.Context(), identity(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookResponse(b))
}

func (h *Handler) CreateBook(c *gin.Context) {
	var req BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	b, err := h.eng.CreateBook(c.Request.Context(), identity(c), req.toSpec())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Location", "/api/v1/books/"+strconv.FormatInt(b.ID, 10))
	c.JSON(http.StatusCreated, toBookResponse(b))
}

func (h *Handler) UpdateBook(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	b, err := h.eng.UpdateBook(c.Request.Context(), identity(c), id, req.toSpec())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBookResponse(b))
}

func (h *Handler) DeleteBook(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	cascade := false
	if v := c.Query("cascade"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "cascade must be a boolean"))
			return
		}
		cascade = b
	}
	if err := h.eng.DeleteBook(c.Request.Context(), identity(c), id, cascade); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- borrows ----------

// POST /borrows {"book_id":1,"days":7}
func (h *Handler) Borrow(c *gin.Context) {
	var req BorrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "invalid json or missing required fields"))
		return
	}
	br, err := h.eng.Borrow(c.Request.Context(), identity(c), req.BookID, req.Days)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Location", "/api/v1/borrows/"+br.ULID)
	c.JSON(http.StatusCreated, toBorrowResponse(br))
}

// POST /borrows/:id/return
func (h *Handler) ReturnBorrow(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	br, err := h.eng.ReturnBorrow(c.Request.Context(), identity(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBorrowResponse(br))
}

// GET /borrows?open=&overdue=&user_id=&book_id=
func (h *Handler) ListAllBorrows(c *gin.Context) {
	f := BorrowFilter{UserID: c.Query("user_id")}
	var err error
	if f.OpenOnly, err = queryBool(c, "open"); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "open must be a boolean"))
		return
	}
	if f.Overdue, err = queryBool(c, "overdue"); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "overdue must be a boolean"))
		return
	}
	if v := c.Query("book_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "book_id must be a positive integer"))
			return
		}
		f.BookID = n
	}

	list, err := h.eng.ListAllBorrows(c.Request.Context(), identity(c), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBorrowList(list))
}

func (h *Handler) ListMyBorrows(c *gin.Context) {
	list, err := h.eng.ListMyBorrows(c.Request.Context(), identity(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBorrowList(list))
}

func (h *Handler) GetBorrow(c *gin.Context) {
	br, err := h.eng.GetBorrow(c.Request.Context(), identity(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toBorrowResponse(br))
}

func (h *Handler) DeleteBorrow(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.eng.DeleteBorrow(c.Request.Context(), identity(c), id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ---------- helpers ----------

// identity: RequireAuth が無い経路では RoleUnknown になり、ゲートで全拒否される
func identity(c *gin.Context) access.Identity {
	id, _ := auth.IdentityFrom(c)
	return id
}

func chain(mw []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(mw)+1)
	out = append(out, mw...)
	return append(out, h)
}

func paramID(c *gin.Context) (int64, bool) {
	n, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, errorBody(CodeInvalidArgument, "id must be a positive integer"))
		return 0, false
	}
	return n, true
}

func queryBool(c *gin.Context, key string) (bool, error) {
	v := c.Query(key)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func toBorrowList(list []Borrow) BorrowListResponse {
	res := BorrowListResponse{Items: make([]BorrowResponse, 0, len(list)), Total: len(list)}
	for i := range list {
		res.Items = append(res.Items, toBorrowResponse(&list[i]))
	}
	return res
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := ToHTTPStatus(err)
	switch {
	case status == http.StatusGatewayTimeout:
		log.Printf("[WARN] %s %s: caller gave up: %v req=%s", c.Request.Method, c.FullPath(), err, requestid.FromContext(c.Request.Context()))
	case status >= http.StatusInternalServerError:
		log.Printf("[ERROR] %s %s: %v req=%s", c.Request.Method, c.FullPath(), err, requestid.FromContext(c.Request.Context()))
	}
	c.JSON(status, errorFromErr(err))
}

func ToHTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeUnavailable, CodeAlreadyReturned:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

type errorDTO struct {
	Error struct {
		Code    Code   `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func errorBody(code Code, msg string) errorDTO {
	var e errorDTO
	e.Error.Code = code
	e.Error.Message = msg
	return e
}

// 想定外のエラーは中身を返さない
func errorFromErr(err error) errorDTO {
	code := CodeOf(err)
	switch code {
	case CodeInternal:
		return errorBody(CodeInternal, "internal error")
	case CodeTimeout:
		return errorBody(CodeTimeout, "request deadline exceeded")
	}
	var msg string
	if e, ok := asError(err); ok {
		msg = e.Message
	}
	return errorBody(code, msg)
}
