// internal/sink/kafka.go

// Package sink ретранслирует принятые кэшем обновления цен во внешнюю
// шину. Это боковой поток для downstream-аналитики; доставка клиентам
// от него не зависит: наблюдатель кэша лишь кладёт запись в буфер,
// публикацией занимается отдельная горутина. Недоступный брокер
// приводит к дропам из буфера, но никогда не тормозит Cache.Update.
package sink

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cryptotradex/stream-gateway/internal/market"
	"github.com/cryptotradex/stream-gateway/pkg/kafka"
	"github.com/cryptotradex/stream-gateway/pkg/logger"
)

var tracer = otel.Tracer("sink")

// defaultQueueSize — глубина буфера между наблюдателем кэша и
// публикующей горутиной.
const defaultQueueSize = 256

// Метрики sink-а.
var (
	queueDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway", Subsystem: "price_sink", Name: "dropped_total",
		Help: "Number of price updates dropped because the sink queue was full",
	})
	publishedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gateway", Subsystem: "price_sink", Name: "published_total",
		Help: "Number of price updates published to the bus",
	})

	registerOnce sync.Once
)

func registerMetrics(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(queueDropped, publishedTotal)
	})
}

// PriceSink публикует каждую принятую запись как JSON в топик Kafka.
// Подключается к кэшу как наблюдатель; Run обслуживает буфер.
type PriceSink struct {
	producer kafka.Producer
	topic    string
	queue    chan market.PriceRecord
	log      *logger.Logger
}

// NewPriceSink создаёт sink поверх готового продюсера.
func NewPriceSink(producer kafka.Producer, topic string, log *logger.Logger) *PriceSink {
	registerMetrics(prometheus.DefaultRegisterer)
	return &PriceSink{
		producer: producer,
		topic:    topic,
		queue:    make(chan market.PriceRecord, defaultQueueSize),
		log:      log.Named("price-sink"),
	}
}

// Attach регистрирует sink наблюдателем кэша.
func (s *PriceSink) Attach(cache *market.Cache) {
	cache.OnUpdate(s.enqueue)
}

// enqueue кладёт запись в буфер без блокировки. Переполнение — дроп:
// путь доставки клиентам важнее бокового потока.
func (s *PriceSink) enqueue(rec market.PriceRecord) {
	select {
	case s.queue <- rec:
	default:
		queueDropped.Inc()
		s.log.Debug("sink queue full, dropping update",
			zap.String("symbol", string(rec.Symbol)),
		)
	}
}

// Run публикует записи из буфера до отмены контекста.
func (s *PriceSink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec := <-s.queue:
			s.publish(ctx, rec)
		}
	}
}

func (s *PriceSink) publish(ctx context.Context, rec market.PriceRecord) {
	ctx, span := tracer.Start(ctx, "PublishPrice",
		trace.WithAttributes(attribute.String("symbol", string(rec.Symbol))))
	defer span.End()

	value, err := json.Marshal(rec)
	if err != nil {
		span.RecordError(err)
		s.log.Error("marshal price record", zap.Error(err))
		return
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(rec.Symbol), value); err != nil {
		span.RecordError(err)
		s.log.Warn("publish price record failed",
			zap.String("symbol", string(rec.Symbol)),
			zap.Error(err),
		)
		return
	}
	publishedTotal.Inc()
}
