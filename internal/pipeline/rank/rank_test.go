package rank

import (
	"testing"
	"time"

	"github.com/TenSpy-ai/starbridge/internal/signals"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectEmptyReturnsValidationError(t *testing.T) {
	_, _, err := Select(nil, nil, nil, nil, "", nil, 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No buyers found")
}

func TestSelectPicksHighestScoreAsFeatured(t *testing.T) {
	recent := time.Now().Format("2006-01-02")
	opps := []signals.Record{
		{"buyerId": "b1", "buyerName": "Acme Corp", "buyerType": "RFP", "type": "RFP", "title": "RFP deadline for widgets", "date": recent, "amount": "1,500,000"},
		{"buyerId": "b2", "buyerName": "Small Co", "buyerType": "Contract", "type": "Notice", "title": "minor notice", "date": "2015-01-01", "amount": "500"},
	}
	featured, secondary, err := Select(opps, nil, nil, []string{"widgets"}, "", []string{"RFP"}, 5)
	require.NoError(t, err)
	assert.Equal(t, "b1", featured.BuyerID)
	require.Len(t, secondary, 1)
	assert.Equal(t, "b2", secondary[0].BuyerID)
}

func TestSelectMergesAcrossBranches(t *testing.T) {
	opps := []signals.Record{{"buyerId": "b1", "buyerName": "Acme", "buyerType": "RFP", "title": "x", "date": "2024-01-01"}}
	byType := []signals.Record{{"buyerId": "b1", "name": "Acme", "type": "RFP"}, {"buyerId": "b2", "name": "Other", "type": "Contract"}}
	featured, secondary, err := Select(opps, byType, nil, nil, "", nil, 5)
	require.NoError(t, err)
	assert.NotNil(t, featured)
	assert.Len(t, secondary, 1)
}

func TestSelectCapsSecondaryAtMax(t *testing.T) {
	var opps []signals.Record
	for i := 0; i < 10; i++ {
		opps = append(opps, signals.Record{"buyerId": string(rune('a' + i)), "buyerName": "Buyer", "buyerType": "X", "title": "t", "date": "2024-01-01"})
	}
	_, secondary, err := Select(opps, nil, nil, nil, "", nil, 3)
	require.NoError(t, err)
	assert.Len(t, secondary, 3)
}
