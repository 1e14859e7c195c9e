package lending

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContainsFold(t *testing.T) {
	assert.True(t, containsFold("Dune Messiah", "dune"))
	assert.True(t, containsFold("ＤＵＮＥ", "dune"))
	assert.True(t, containsFold("anything", ""))
	assert.False(t, containsFold("Emma", "dune"))
}

func TestLikeContains_EscapesWildcards(t *testing.T) {
	assert.Equal(t, `%100\%%`, likeContains("100%"))
	assert.Equal(t, `%a\_b%`, likeContains(" a_b "))
	assert.Equal(t, `%c:\\d%`, likeContains(`c:\d`))
}
