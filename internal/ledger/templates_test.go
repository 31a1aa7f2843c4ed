package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateRegistryCheck(t *testing.T) {
	reg, err := NewTemplateRegistry(map[TemplateID]string{
		TemplateOrder: ">= 1.0.0, < 2.0.0",
	})
	require.NoError(t, err)

	assert.NoError(t, reg.Check(TemplateOrder, "1.3.0"))
	assert.Error(t, reg.Check(TemplateOrder, "2.0.0"))
	assert.NoError(t, reg.Check(TemplateTrade, "anything-goes"))
}
