package sigledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	sigledger "github.com/getpup/sigledger/pkg"
)

func TestVersion(t *testing.T) {
	assert.Equal(t, "0.1.0-dev", sigledger.Version())
}
