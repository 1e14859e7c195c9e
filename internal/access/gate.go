package access

// Operation はエンジンが公開する操作
type Operation int

const (
	OpListBooks Operation = iota + 1
	OpGetBook
	OpCreateBook
	OpUpdateBook
	OpDeleteBook
	OpBorrow
	OpReturnBorrow
	OpListAllBorrows
	OpListMyBorrows
	OpGetBorrow
	OpDeleteBorrow
	OpListUsers
	OpManageUsers
)

var opNames = map[Operation]string{
	OpListBooks:      "listBooks",
	OpGetBook:        "getBook",
	OpCreateBook:     "createBook",
	OpUpdateBook:     "updateBook",
	OpDeleteBook:     "deleteBook",
	OpBorrow:         "borrow",
	OpReturnBorrow:   "returnBorrow",
	OpListAllBorrows: "listAllBorrows",
	OpListMyBorrows:  "listMyBorrows",
	OpGetBorrow:      "getBorrow",
	OpDeleteBorrow:   "deleteBorrow",
	OpListUsers:      "listUsers",
	OpManageUsers:    "manageUsers",
}

func (op Operation) String() string {
	if n, ok := opNames[op]; ok {
		return n
	}
	return "unknown"
}

// policy: role -> 許可する操作
var policy = map[Role]map[Operation]bool{
	RoleAdmin: {
		OpListBooks:      true,
		OpGetBook:        true,
		OpCreateBook:     true,
		OpUpdateBook:     true,
		OpDeleteBook:     true,
		OpListAllBorrows: true,
		OpListMyBorrows:  true,
		OpGetBorrow:      true,
		OpDeleteBorrow:   true,
		OpListUsers:      true,
		OpManageUsers:    true,
	},
	RoleUser: {
		OpListBooks:     true,
		OpGetBook:       true,
		OpBorrow:        true,
		OpReturnBorrow:  true,
		OpListMyBorrows: true,
		OpGetBorrow:     true,
	},
}

// Authorize reports whether role may invoke op. Unknown roles and operations are denied.
func Authorize(role Role, op Operation) bool {
	return policy[role][op]
}
