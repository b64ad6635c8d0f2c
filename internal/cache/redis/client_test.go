package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyspacePrefix(t *testing.T) {
	assert.Equal(t, "costsim:live:metrics", namespaced(metricsKey))
	assert.Equal(t, "costsim:lock:archive", lockKey("archive"))
	assert.Equal(t, "costsim:ratelimit:api:203.0.113.5", rateLimitKey("api:203.0.113.5"))
}
