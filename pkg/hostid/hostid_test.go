package hostid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	fail := func(string) (string, error) { return "", errors.New("no machine id") }
	noHost := func() (string, error) { return "", errors.New("no hostname") }

	got := resolve(func(app string) (string, error) {
		assert.Equal(t, appID, app)
		return "0123456789abcdef0123456789abcdef", nil
	}, noHost)
	assert.Equal(t, "0123456789abcdef", got)

	assert.Equal(t, "box-1", resolve(fail, func() (string, error) { return "box-1", nil }))
	assert.Equal(t, "unknown", resolve(fail, noHost))
}

func TestIDIsStable(t *testing.T) {
	assert.NotEmpty(t, ID())
	assert.Equal(t, ID(), ID())
}
