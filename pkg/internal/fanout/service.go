package fanout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/yeisme/syncvault/pkg/configs"
	"github.com/yeisme/syncvault/pkg/internal/feed"
	nlog "github.com/yeisme/syncvault/pkg/log"
	"github.com/yeisme/syncvault/pkg/metrics"
)

// ErrAlreadyStarted Start 被重复调用.
var ErrAlreadyStarted = errors.New("fanout: already started")

// Service 订阅变更流并推送给在线连接.订阅失败或断开后按固定间隔重订阅，直到 Stop.
type Service struct {
	feed     feed.Feed
	registry *Registry
	backoff  time.Duration
	logger   *zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option 配置 Service.
type Option func(*Service)

// WithBackoff 重订阅前的等待时间.
func WithBackoff(d time.Duration) Option { return func(s *Service) { s.backoff = d } }

// WithLogger 指定日志器.
func WithLogger(l *zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// NewService 创建推送服务.
func NewService(f feed.Feed, registry *Registry, opts ...Option) *Service {
	l := nlog.Component("fanout")

	s := &Service{
		feed:     f,
		registry: registry,
		backoff:  configs.DefaultResubscribeBackoff,
		logger:   &l,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Registry 返回连接表.
func (s *Service) Registry() *Registry { return s.registry }

// Start 在后台开始消费变更流.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx, s.done)

	return nil
}

// Stop 停止消费并等待后台协程退出，可重复调用.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

func (s *Service) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		ch, err := s.feed.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			s.logger.Error().Err(err).Msg("subscribe to change feed failed")
		} else {
			s.logger.Info().Msg("change feed subscribed")
			s.consume(ctx, ch)
		}

		if ctx.Err() != nil {
			return
		}

		s.logger.Warn().Dur("backoff", s.backoff).Msg("change feed lost, resubscribing")

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.backoff):
		}

		metrics.FeedResubscribes.Inc()
	}
}

func (s *Service) consume(ctx context.Context, ch <-chan feed.Mutation) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			s.Dispatch(m)
		}
	}
}

// Dispatch 清洗一条变更并投递给所有者的全部连接，返回成功投递的连接数.
func (s *Service) Dispatch(m feed.Mutation) int {
	ev, owner, ok := Sanitize(m)
	if !ok {
		s.logger.Debug().Uint64("change", m.ChangeID).Str("op", m.Op).Msg("drop change without owner")
		metrics.FanoutDeliveries.WithLabelValues("dropped").Inc()

		return 0
	}

	metrics.FanoutEvents.WithLabelValues(ev.Type).Inc()

	sent := 0

	for _, h := range s.registry.ConnectionsFor(owner) {
		if err := h.Send(ev); err != nil {
			s.logger.Warn().Err(err).Str("conn", h.ID()).Str("user", owner).Msg("deliver change failed")
			metrics.FanoutDeliveries.WithLabelValues("failed").Inc()

			continue
		}

		metrics.FanoutDeliveries.WithLabelValues("sent").Inc()
		sent++
	}

	return sent
}
