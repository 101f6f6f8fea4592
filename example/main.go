package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/tahan-dev/tahan"
)

// fakeTransport simulates a metered inference endpoint: occasional rate
// limits, otherwise a count answer per request.
type fakeTransport struct{}

func (fakeTransport) Do(ctx context.Context, cred tahan.Credential, service tahan.ServiceType, payload []byte) ([]byte, error) {
	if rand.Intn(10) == 0 {
		return nil, &tahan.GatewayError{Type: tahan.ErrorTypeRateLimited, Service: service, Message: "simulated rate limit", StatusCode: 429}
	}
	return []byte(fmt.Sprintf(`{"people_count":%d}`, 5+rand.Intn(20))), nil
}

func (t fakeTransport) DoBatch(ctx context.Context, cred tahan.Credential, service tahan.ServiceType, payloads [][]byte) ([]byte, error) {
	var combined string
	for i := range payloads {
		combined += fmt.Sprintf("REQUEST_%d_RESPONSE: {\"people_count\":%d}\n", i+1, 5+rand.Intn(20))
	}
	return []byte(combined), nil
}

func main() {
	gw, err := tahan.New(
		tahan.WithTransport(fakeTransport{}),
		tahan.WithCredentials(tahan.ServiceVision, "key-a", "key-b", "key-c"),
		tahan.WithBatchTimeout(300*time.Millisecond),
		tahan.WithSimpleLogger(),
	)
	if err != nil {
		panic(err)
	}
	defer gw.Close()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp := gw.Submit(context.Background(), &tahan.Request{
				Service:  tahan.ServiceVision,
				Payload:  []byte(fmt.Sprintf(`{"camera":"cam-%d"}`, i%4)),
				Priority: tahan.PriorityHigh,
			})
			fmt.Printf("cam-%d source=%s confidence=%s data=%s\n",
				i%4, resp.Source, resp.Confidence, resp.Data)
		}(i)
	}
	wg.Wait()

	stats := gw.Stats()
	fmt.Printf("\ntotal=%d batched=%d cacheHits=%d fallbacks=%d avoided=%d success=%.1f%%\n",
		stats.TotalRequests, stats.BatchedRequests, stats.CacheHits,
		stats.FallbacksUsed, stats.RateLimitAvoided, stats.SuccessRatePercent)
}
