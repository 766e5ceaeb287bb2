package backend

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterMatches(t *testing.T) {
	row := Row{"event_id": "e1", "user_id": "u1", "capacity": int64(10)}

	assert.True(t, Filter{}.Matches(row))
	assert.True(t, Filter{"event_id": "e1", "user_id": "u1"}.Matches(row))
	assert.True(t, Filter{"capacity": 10}.Matches(row))
	assert.False(t, Filter{"event_id": "e2"}.Matches(row))
	assert.False(t, Filter{"missing": "x"}.Matches(row))
}

func TestIsConstraint(t *testing.T) {
	err := fmt.Errorf("insert: %w", &ConstraintError{Table: TableTickets, Constraint: "tickets_event_user_key"})
	assert.True(t, IsConstraint(err))
	assert.False(t, IsConstraint(ErrNotFound))
	assert.Contains(t, err.Error(), "tickets_event_user_key")
}
