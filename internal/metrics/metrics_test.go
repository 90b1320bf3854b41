package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.MessagesTotal.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.MessagesTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.MessagesTotal))
}

func TestObservePersist(t *testing.T) {
	m := New()
	m.ObservePersist("save", nil)
	m.ObservePersist("save", errors.New("disk full"))
	m.ObservePersist("save", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PersistOps.WithLabelValues("save", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PersistOps.WithLabelValues("save", OutcomeError)))
}

func TestHandler_ExposesChatCollectors(t *testing.T) {
	m := New()
	m.RoomsActive.Set(3)
	m.AssistantReplies.WithLabelValues(OutcomeOK).Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "chat_rooms_active 3")
	assert.Contains(t, string(body), `chat_assistant_replies_total{outcome="ok"} 1`)
}
