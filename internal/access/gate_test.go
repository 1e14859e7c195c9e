package access_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"LIB-backend/internal/access"
)

func Test_Authorize(t *testing.T) {
	cases := []struct {
		role  access.Role
		op    access.Operation
		allow bool
	}{
		{access.RoleAdmin, access.OpCreateBook, true},
		{access.RoleAdmin, access.OpUpdateBook, true},
		{access.RoleAdmin, access.OpDeleteBook, true},
		{access.RoleAdmin, access.OpListAllBorrows, true},
		{access.RoleAdmin, access.OpDeleteBorrow, true},
		{access.RoleAdmin, access.OpListUsers, true},
		{access.RoleAdmin, access.OpManageUsers, true},
		{access.RoleAdmin, access.OpListBooks, true},
		{access.RoleAdmin, access.OpGetBook, true},
		{access.RoleAdmin, access.OpBorrow, false},
		{access.RoleAdmin, access.OpReturnBorrow, false},

		{access.RoleUser, access.OpBorrow, true},
		{access.RoleUser, access.OpReturnBorrow, true},
		{access.RoleUser, access.OpListMyBorrows, true},
		{access.RoleUser, access.OpListBooks, true},
		{access.RoleUser, access.OpGetBook, true},
		{access.RoleUser, access.OpCreateBook, false},
		{access.RoleUser, access.OpUpdateBook, false},
		{access.RoleUser, access.OpDeleteBook, false},
		{access.RoleUser, access.OpListAllBorrows, false},
		{access.RoleUser, access.OpDeleteBorrow, false},
		{access.RoleUser, access.OpListUsers, false},
		{access.RoleUser, access.OpManageUsers, false},

		{access.RoleUnknown, access.OpListBooks, false},
		{access.RoleUnknown, access.OpBorrow, false},
		{access.RoleAdmin, access.Operation(999), false},
	}

	for _, tc := range cases {
		t.Run(tc.role.String()+"/"+tc.op.String(), func(t *testing.T) {
			assert.Equal(t, tc.allow, access.Authorize(tc.role, tc.op))
		})
	}
}

func Test_ParseRole(t *testing.T) {
	r, err := access.ParseRole("admin")
	require.NoError(t, err)
	assert.Equal(t, access.RoleAdmin, r)

	r, err = access.ParseRole(" USER ")
	require.NoError(t, err)
	assert.Equal(t, access.RoleUser, r)

	_, err = access.ParseRole("librarian")
	assert.Error(t, err)
}

func Test_Role_TextRoundTrip(t *testing.T) {
	var r access.Role
	require.NoError(t, r.UnmarshalText([]byte("ADMIN")))
	b, err := r.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "ADMIN", string(b))
}
