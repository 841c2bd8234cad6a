package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/chipfleet-control-plane/internal/infra"
	"golang.org/x/time/rate"
)

// ThrottleError — провайдер попросил сбавить темп (прислал Retry-After).
type ThrottleError struct {
	RetryAfter time.Duration
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("provider throttled, retry after %s", e.RetryAfter)
}

// Pinger — транспортный уровень пробы: жив ли чип у провайдера.
type Pinger interface {
	Ping(ctx context.Context, chipID string) error
}

// HTTPPinger дергает health-endpoint провайдера по конкретному чипу.
type HTTPPinger struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPinger(cfg infra.ProviderConfig) *HTTPPinger {
	return &HTTPPinger{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.ProbeTimeout},
	}
}

func (p *HTTPPinger) Ping(ctx context.Context, chipID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/sessions/%s/health", p.baseURL, chipID), nil)
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		// Считываем Retry-After, чтобы ретрай ждал ровно сколько просят
		after := 5 * time.Second
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil {
				after = time.Duration(secs) * time.Second
			}
		}
		return &ThrottleError{RetryAfter: after}
	default:
		return fmt.Errorf("provider health check returned %d", resp.StatusCode)
	}
}

// ReliabilityWrapper оборачивает пробы в Rate Limiter + Circuit Breaker +
// Retry. Монитор обходит сотни чипов: без предохранителя деградация
// провайдера превратила бы обход в шторм таймаутов.
type ReliabilityWrapper struct {
	next    Pinger
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliabilityWrapper(next Pinger, cfg infra.ProviderConfig) *ReliabilityWrapper {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "provider-heartbeat",
		MaxRequests: cfg.CBMaxRequests,
		Interval:    cfg.CBInterval,
		Timeout:     cfg.CBTimeout, // время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
	})

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.ProbeRPS), cfg.ProbeBurst),
	}
}

func (w *ReliabilityWrapper) Ping(ctx context.Context, chipID string) error {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("probe rate limit: %w", err)
	}

	// 2. Circuit Breaker
	_, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Провайдер прислал Retry-After — уважаем его
				var tErr *ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}
				// Иначе стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		return nil, r.Do(func() error {
			return w.next.Ping(ctx, chipID)
		})
	})
	return err
}
