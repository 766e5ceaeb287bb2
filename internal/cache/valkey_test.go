package cache

import (
	"testing"
	"time"

	"festtix/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogEncoding(t *testing.T) {
	events := []models.Event{{
		ID:            "e1",
		Title:         "Battle of Bands",
		Category:      "Music",
		StartsAt:      time.Date(2026, 8, 15, 18, 0, 0, 0, time.UTC),
		Capacity:      500,
		TicketsBooked: 12,
		Emoji:         "🎸",
	}}

	raw, err := encodeCatalog(events)
	require.NoError(t, err)
	assert.Contains(t, raw, `"event_date":"2026-08-15T18:00:00Z"`)

	decoded, err := decodeCatalog(raw)
	require.NoError(t, err)
	assert.Equal(t, events, decoded)
}

func TestDecodeCatalogRejectsGarbage(t *testing.T) {
	_, err := decodeCatalog("{not json")
	assert.Error(t, err)
}
