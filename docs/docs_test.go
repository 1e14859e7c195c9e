package docs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swaggo/swag"
)

func TestSwaggerDocIsValidJSON(t *testing.T) {
	doc, err := swag.ReadDoc()
	require.NoError(t, err)

	var v struct {
		BasePath string                    `json:"basePath"`
		Paths    map[string]map[string]any `json:"paths"`
	}
	require.NoError(t, json.Unmarshal([]byte(doc), &v))
	assert.Equal(t, "/api/v1", v.BasePath)
	assert.Contains(t, v.Paths, "/borrows/{id}/return")
	assert.Contains(t, v.Paths["/books/{id}"], "delete")
}
