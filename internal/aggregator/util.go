package aggregator

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

func decimalFromFloat(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func timeNow() time.Time { return time.Now() }

// resultMutex guards concurrent appends into a map[string][]venueQuote
// from collectQuotes's fan-out goroutines.
type resultMutex struct{ mu sync.Mutex }

func (r *resultMutex) store(m *map[string][]venueQuote, symbol string, q venueQuote) {
	r.mu.Lock()
	defer r.mu.Unlock()
	(*m)[symbol] = append((*m)[symbol], q)
}
